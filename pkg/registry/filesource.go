package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// descriptor is the on-disk YAML form of one service registration.
// The env block carries the orchestrator metadata convention
// (VIRTUAL_HOST, AUTO_CERT, CERT_NAME).
type descriptor struct {
	ID       string            `yaml:"id"`
	Upstream string            `yaml:"upstream"`
	Env      map[string]string `yaml:"env"`
}

// DirSource reads service descriptors from a directory of YAML files and
// watches it with fsnotify. Each file describes one backend service; file
// creation, modification, and removal translate to registry events.
type DirSource struct {
	path   string
	logger *slog.Logger
}

// NewDirSource creates a directory-backed descriptor source.
func NewDirSource(path string, logger *slog.Logger) *DirSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirSource{
		path:   path,
		logger: logger.With("component", "registry.dirsource"),
	}
}

// Name identifies the source in logs.
func (s *DirSource) Name() string {
	return fmt.Sprintf("dir:%s", s.path)
}

// List reads all descriptor files in the directory. Invalid descriptors are
// logged and skipped so one broken file cannot take down the other routes.
func (s *DirSource) List(ctx context.Context) ([]ServiceEndpoint, error) {
	entries, err := os.ReadDir(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor directory %q: %w", s.path, err)
	}

	var endpoints []ServiceEndpoint
	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if entry.IsDir() || !isDescriptorFile(entry.Name()) {
			continue
		}

		path := filepath.Join(s.path, entry.Name())
		ep, err := s.readDescriptor(path)
		if err != nil {
			s.logger.Warn("skipping invalid service descriptor",
				"path", path,
				"error", err,
			)
			continue
		}
		endpoints = append(endpoints, ep)
	}

	sortEndpoints(endpoints)
	return endpoints, nil
}

// readDescriptor parses one descriptor file into a ServiceEndpoint.
func (s *DirSource) readDescriptor(path string) (ServiceEndpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ServiceEndpoint{}, &DescriptorError{Path: path, Err: err}
	}

	var d descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return ServiceEndpoint{}, &DescriptorError{Path: path, Err: err}
	}

	// The file name stem doubles as the endpoint ID when none is set.
	if d.ID == "" {
		base := filepath.Base(path)
		d.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}

	ep, err := EndpointFromMetadata(d.ID, d.Upstream, d.Env)
	if err != nil {
		return ServiceEndpoint{}, &DescriptorError{Path: path, Err: err}
	}
	return ep, nil
}

// Watch streams change events for the descriptor directory. Every relevant
// file event maps to a resync: consumers re-list the directory rather than
// patching state from event payloads.
func (s *DirSource) Watch(ctx context.Context) (<-chan Event, <-chan error, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fw.Add(s.path); err != nil {
		fw.Close()
		return nil, nil, &DisconnectError{Source: s.Name(), Err: err}
	}

	events := make(chan Event)
	errCh := make(chan error, 1)

	go func() {
		defer close(events)
		defer fw.Close()

		for {
			select {
			case <-ctx.Done():
				errCh <- nil
				return

			case ev, ok := <-fw.Events:
				if !ok {
					errCh <- &DisconnectError{Source: s.Name(), Err: fmt.Errorf("event channel closed")}
					return
				}
				if !s.shouldProcessEvent(ev) {
					continue
				}

				s.logger.Debug("descriptor event",
					"path", ev.Name,
					"op", ev.Op.String(),
				)

				base := filepath.Base(ev.Name)
				id := strings.TrimSuffix(base, filepath.Ext(base))

				out := Event{Type: EventResync, EndpointID: id}
				switch {
				case ev.Op.Has(fsnotify.Create):
					out.Type = EventAdded
				case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
					out.Type = EventRemoved
				case ev.Op.Has(fsnotify.Write):
					out.Type = EventUpdated
				}

				select {
				case events <- out:
				case <-ctx.Done():
					errCh <- nil
					return
				}

			case werr, ok := <-fw.Errors:
				if !ok {
					errCh <- &DisconnectError{Source: s.Name(), Err: fmt.Errorf("error channel closed")}
					return
				}
				errCh <- &DisconnectError{Source: s.Name(), Err: werr}
				return
			}
		}
	}()

	return events, errCh, nil
}

// Close releases source resources. The directory source holds nothing
// outside individual Watch sessions.
func (s *DirSource) Close() error {
	return nil
}

// shouldProcessEvent filters events down to descriptor file changes.
func (s *DirSource) shouldProcessEvent(ev fsnotify.Event) bool {
	if ev.Op.Has(fsnotify.Chmod) && ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	return isDescriptorFile(filepath.Base(ev.Name))
}

// isDescriptorFile reports whether a file name looks like a descriptor.
// Hidden files and editor temp files are ignored.
func isDescriptorFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
