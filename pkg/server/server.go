package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"mercator-hq/janus/pkg/certs"
	"mercator-hq/janus/pkg/config"
	"mercator-hq/janus/pkg/proxy"
	"mercator-hq/janus/pkg/registry"
	"mercator-hq/janus/pkg/reload"
	"mercator-hq/janus/pkg/routes"
)

// Server is the Janus daemon: watcher, route builder, reload controller,
// certificate manager, and the proxy listeners, composed and supervised as
// one unit.
type Server struct {
	config *config.Config
	logger *slog.Logger

	source     registry.Source
	watcher    *registry.Watcher
	engine     *proxy.Engine
	controller *reload.Controller
	manager    *certs.Manager
	sweeper    *certs.Sweeper
	index      *certs.Index

	httpServer  *http.Server
	httpsServer *http.Server
	adminServer *http.Server

	shutdownOnce sync.Once
}

// New assembles a server from configuration. Construction opens the
// certificate store and index and loads persisted material, but does not
// bind any listener or touch the network.
func New(cfg *config.Config) (*Server, error) {
	logger := slog.Default()
	s := &Server{config: cfg, logger: logger.With("component", "server")}

	if cfg.Registry.Source != "dir" {
		return nil, fmt.Errorf("unsupported registry source %q", cfg.Registry.Source)
	}
	s.source = registry.NewDirSource(cfg.Registry.Path, logger)
	s.watcher = registry.NewWatcher(s.source, registry.WatcherConfig{
		DebounceInterval:    cfg.Registry.DebounceInterval,
		ReconnectMinBackoff: cfg.Registry.ReconnectMinBackoff,
		ReconnectMaxBackoff: cfg.Registry.ReconnectMaxBackoff,
	}, logger)

	store, err := certs.NewStore(cfg.ACME.StorePath, logger)
	if err != nil {
		return nil, err
	}
	s.index, err = certs.OpenIndex(cfg.ACME.IndexPath)
	if err != nil {
		return nil, err
	}

	solver := certs.NewChallengeStore()
	var orderer certs.Orderer
	if cfg.ACME.Enabled {
		accountKey, err := store.AccountKey()
		if err != nil {
			s.index.Close()
			return nil, err
		}
		orderer, err = certs.NewACMEOrderer(certs.ACMEOrdererConfig{
			Email:        cfg.ACME.Email,
			DirectoryURL: cfg.ACME.DirectoryURL,
			AccountKey:   accountKey,
			Solver:       solver,
			Logger:       logger,
		})
		if err != nil {
			s.index.Close()
			return nil, err
		}
	}

	s.manager, err = certs.NewManager(certs.ManagerConfig{
		Store:           store,
		Index:           s.index,
		Orderer:         orderer,
		Solver:          solver,
		Predeclared:     cfg.Certificates,
		RenewBefore:     cfg.ACME.RenewBefore,
		OrdersPerHour:   cfg.ACME.OrdersPerHour,
		RetryMaxElapsed: cfg.ACME.RetryMaxElapsed,
		OnChange:        s.certificateChanged,
		Logger:          logger,
	})
	if err != nil {
		s.index.Close()
		return nil, err
	}
	s.sweeper = certs.NewSweeper(s.manager, cfg.ACME.SweepSchedule, logger)

	s.engine = proxy.NewEngine(proxy.EngineConfig{
		Certificates: s.manager,
		Tokens:       solver,
		RedirectHTTP: cfg.Proxy.RedirectHTTP,
		Logger:       logger,
	})
	s.controller = reload.NewController(s.engine, cfg.Proxy.GeneratedConfigPath, logger)

	return s, nil
}

// Run starts every component and blocks until the context is cancelled, a
// termination signal arrives, or a listener fails.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan error, 4)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("registry watcher: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.controller.Run(ctx); err != nil {
			errChan <- fmt.Errorf("reload controller: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.consumeSnapshots(ctx)
	}()

	if err := s.sweeper.Start(ctx); err != nil {
		cancel()
		wg.Wait()
		return err
	}

	s.startListeners(errChan)

	s.logger.Info("janus started",
		"http_address", s.config.Proxy.HTTPAddress,
		"https_address", s.config.Proxy.HTTPSAddress,
		"admin_address", s.config.Proxy.AdminAddress,
		"registry_path", s.config.Registry.Path,
		"acme_enabled", s.config.ACME.Enabled,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errChan:
		s.logger.Error("component failed", "error", err)
		runErr = err
	}

	cancel()
	shutdownErr := s.Shutdown(context.Background())
	wg.Wait()

	if runErr != nil {
		return runErr
	}
	return shutdownErr
}

// consumeSnapshots is the coordination loop: each registry snapshot becomes
// a route table build and a reload request, and the table's certificate
// demands are handed to the manager. Snapshots arrive already coalesced;
// the newest one always wins.
func (s *Server) consumeSnapshots(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snapshot, ok := <-s.watcher.Snapshots():
			if !ok {
				return
			}
			s.applySnapshot(ctx, snapshot)
		}
	}
}

// applySnapshot builds and publishes the route table for one snapshot.
func (s *Server) applySnapshot(ctx context.Context, snapshot registry.Snapshot) {
	table, err := routes.Build(snapshot.Endpoints)
	if err != nil && !errors.Is(err, routes.ErrNoEndpoints) {
		s.logger.Error("route table build failed",
			"snapshot", snapshot.ID,
			"error", err,
		)
		return
	}

	s.logger.Info("route table built",
		"snapshot", snapshot.ID,
		"endpoints", len(snapshot.Endpoints),
		"routes", table.Len(),
		"cert_requests", len(table.CertRequests()),
		"conflicts", len(table.Conflicts()),
	)

	if err := s.controller.Request(table); err != nil {
		s.logger.Error("reload request rejected", "error", err)
		return
	}
	s.manager.Ensure(ctx, table.CertRequests())
}

// certificateChanged re-requests a reload when new material lands so the
// redirect and TLS behavior of affected hosts updates promptly. Identical
// tables dedupe inside the controller.
func (s *Server) certificateChanged(name string) {
	s.logger.Info("certificate changed, requesting reload", "cert", name)
	if err := s.controller.Request(s.engine.Table()); err != nil {
		s.logger.Warn("reload request after certificate change rejected", "error", err)
	}
}

// startListeners binds the HTTP, HTTPS, and admin servers.
func (s *Server) startListeners(errChan chan<- error) {
	pcfg := s.config.Proxy

	s.httpServer = &http.Server{
		Addr:           pcfg.HTTPAddress,
		Handler:        s.frontChain("http", s.engine.HTTPHandler()),
		ReadTimeout:    pcfg.ReadTimeout,
		WriteTimeout:   pcfg.WriteTimeout,
		IdleTimeout:    pcfg.IdleTimeout,
		MaxHeaderBytes: pcfg.MaxHeaderBytes,
	}
	go func() {
		s.logger.Info("http listener starting", "address", pcfg.HTTPAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("http listener: %w", err)
		}
	}()

	s.httpsServer = &http.Server{
		Addr:           pcfg.HTTPSAddress,
		Handler:        s.frontChain("https", s.engine.HTTPSHandler()),
		TLSConfig:      s.engine.TLSConfig(),
		ReadTimeout:    pcfg.ReadTimeout,
		WriteTimeout:   pcfg.WriteTimeout,
		IdleTimeout:    pcfg.IdleTimeout,
		MaxHeaderBytes: pcfg.MaxHeaderBytes,
	}
	go func() {
		s.logger.Info("https listener starting", "address", pcfg.HTTPSAddress)
		// Certificates come from GetCertificate; no static pair.
		if err := s.httpsServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("https listener: %w", err)
		}
	}()

	s.adminServer = &http.Server{
		Addr:    pcfg.AdminAddress,
		Handler: s.adminHandler(),
	}
	go func() {
		s.logger.Info("admin listener starting", "address", pcfg.AdminAddress)
		if err := s.adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("admin listener: %w", err)
		}
	}()
}

// frontChain wraps a data-plane handler with the standard middleware.
func (s *Server) frontChain(listener string, h http.Handler) http.Handler {
	h = proxy.LoggingMiddleware(listener, h)
	h = proxy.RequestIDMiddleware(h)
	h = proxy.RecoveryMiddleware(h)
	return h
}

// Shutdown stops the listeners gracefully, then closes the certificate
// manager and index.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.logger.Info("initiating graceful shutdown",
			"timeout", s.config.Proxy.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Proxy.ShutdownTimeout)
		defer cancel()

		for _, srv := range []*http.Server{s.httpServer, s.httpsServer, s.adminServer} {
			if srv == nil {
				continue
			}
			if err := srv.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("error during listener shutdown", "error", err)
				shutdownErr = fmt.Errorf("listener shutdown: %w", err)
			}
		}

		s.sweeper.Stop()
		s.manager.Close()
		if err := s.source.Close(); err != nil {
			s.logger.Warn("error closing registry source", "error", err)
		}
		if err := s.index.Close(); err != nil {
			s.logger.Warn("error closing certificate index", "error", err)
		}

		s.logger.Info("janus stopped")
	})
	return shutdownErr
}
