package certs

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
)

// Orderer obtains certificate material for a domain set. The production
// implementation talks ACME v2 through lego; tests substitute a fake.
type Orderer interface {
	// Obtain runs a complete order for the domain set and returns the
	// issued material. Blocking; honors ctx cancellation between network
	// round trips.
	Obtain(ctx context.Context, domains []string) (Material, error)
}

// ChallengeStore holds active HTTP-01 challenge tokens in memory. It
// implements lego's challenge.Provider on the write side and is read by the
// proxy engine when requests arrive at the well-known challenge path.
type ChallengeStore struct {
	mu     sync.RWMutex
	tokens map[string]string

	// onPresent, when set, is invoked with the challenge domain each time
	// a token is published. The manager uses it to move the owning
	// certificate into CHALLENGE_PENDING.
	onPresent func(domain string)
}

// NewChallengeStore creates an empty challenge store.
func NewChallengeStore() *ChallengeStore {
	return &ChallengeStore{tokens: make(map[string]string)}
}

// OnPresent registers a hook called whenever a token is published. Must be
// set before the store is handed to an ACME client.
func (c *ChallengeStore) OnPresent(fn func(domain string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPresent = fn
}

// Present publishes a key authorization for a token. Implements
// challenge.Provider.
func (c *ChallengeStore) Present(domain, token, keyAuth string) error {
	c.mu.Lock()
	c.tokens[token] = keyAuth
	fn := c.onPresent
	c.mu.Unlock()

	if fn != nil {
		fn(domain)
	}
	return nil
}

// CleanUp removes a token after the challenge concludes. Implements
// challenge.Provider.
func (c *ChallengeStore) CleanUp(domain, token, keyAuth string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, token)
	return nil
}

// KeyAuth returns the key authorization for a token, if one is active.
func (c *ChallengeStore) KeyAuth(token string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keyAuth, ok := c.tokens[token]
	return keyAuth, ok
}

// acmeUser carries the ACME account identity for lego.
type acmeUser struct {
	email        string
	registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *acmeUser) GetEmail() string                        { return u.email }
func (u *acmeUser) GetRegistration() *registration.Resource { return u.registration }
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

// ACMEOrdererConfig configures the lego-backed orderer.
type ACMEOrdererConfig struct {
	// Email is the ACME account contact address.
	Email string

	// DirectoryURL is the ACME v2 directory endpoint.
	DirectoryURL string

	// AccountKey is the account private key, typically loaded from the
	// store via Store.AccountKey.
	AccountKey crypto.PrivateKey

	// Solver receives HTTP-01 tokens during orders.
	Solver *ChallengeStore

	// Logger is the structured logger; defaults to slog.Default().
	Logger *slog.Logger
}

// ACMEOrderer is the lego-backed Orderer. The account is registered lazily
// on the first order so that construction never touches the network.
type ACMEOrderer struct {
	client *lego.Client
	user   *acmeUser
	logger *slog.Logger

	registerOnce sync.Once
	registerErr  error
}

// NewACMEOrderer builds a lego client bound to the given directory and
// challenge solver.
func NewACMEOrderer(cfg ACMEOrdererConfig) (*ACMEOrderer, error) {
	if cfg.Email == "" {
		return nil, fmt.Errorf("acme email cannot be empty")
	}
	if cfg.AccountKey == nil {
		return nil, fmt.Errorf("acme account key cannot be nil")
	}
	if cfg.Solver == nil {
		return nil, fmt.Errorf("acme challenge solver cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	user := &acmeUser{email: cfg.Email, key: cfg.AccountKey}

	legoCfg := lego.NewConfig(user)
	legoCfg.CADirURL = cfg.DirectoryURL
	legoCfg.Certificate.KeyType = certcrypto.EC256

	client, err := lego.NewClient(legoCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create acme client: %w", err)
	}
	if err := client.Challenge.SetHTTP01Provider(cfg.Solver); err != nil {
		return nil, fmt.Errorf("failed to register http-01 solver: %w", err)
	}

	return &ACMEOrderer{
		client: client,
		user:   user,
		logger: cfg.Logger.With("component", "certs.acme"),
	}, nil
}

// register ensures the ACME account exists, agreeing to the CA's terms.
func (o *ACMEOrderer) register() error {
	o.registerOnce.Do(func() {
		reg, err := o.client.Registration.Register(registration.RegisterOptions{
			TermsOfServiceAgreed: true,
		})
		if err != nil {
			o.registerErr = fmt.Errorf("failed to register acme account: %w", err)
			return
		}
		o.user.registration = reg
		o.logger.Info("acme account registered", "email", o.user.email)
	})
	return o.registerErr
}

// Obtain runs a full order for the domain set and returns the issued
// material with the leaf expiry parsed out of the chain.
func (o *ACMEOrderer) Obtain(ctx context.Context, domains []string) (Material, error) {
	if len(domains) == 0 {
		return Material{}, fmt.Errorf("domain list cannot be empty")
	}
	if err := o.register(); err != nil {
		return Material{}, err
	}
	if err := ctx.Err(); err != nil {
		return Material{}, err
	}

	start := time.Now()
	res, err := o.client.Certificate.Obtain(certificate.ObtainRequest{
		Domains: domains,
		Bundle:  true,
	})
	if err != nil {
		if IsRateLimited(err) {
			return Material{}, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return Material{}, &ChallengeError{Name: domains[0], Domains: domains, Err: err}
	}

	notAfter, err := leafNotAfter(res.Certificate)
	if err != nil {
		return Material{}, fmt.Errorf("issued certificate unreadable: %w", err)
	}

	o.logger.Info("certificate obtained",
		"domains", domains,
		"not_after", notAfter.Format(time.RFC3339),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return Material{
		Domains:  domains,
		KeyPEM:   res.PrivateKey,
		ChainPEM: res.Certificate,
		NotAfter: notAfter,
	}, nil
}

// leafNotAfter parses the first certificate of a PEM chain and returns its
// expiry.
func leafNotAfter(chainPEM []byte) (time.Time, error) {
	block, _ := pem.Decode(chainPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return time.Time{}, fmt.Errorf("no certificate block in chain")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse leaf certificate: %w", err)
	}
	return cert.NotAfter, nil
}
