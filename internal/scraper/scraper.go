// Package scraper defines the provider scraper contract and the browser
// automation toolkit adapters are built from: scoped chromedp sessions,
// probabilistic selector probing, network-capture-first extraction with a DOM
// fallback, and the OTP pause signal.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ternarybob/credbridge/internal/models"
)

// ErrOtpRequired is the distinguished, non-fatal outcome raised when the
// target site demands an interactive code that was not supplied. The worker
// maps it to an otp_required event, never to a failure; the flow restarts as
// a fresh job once the user answers out-of-band.
var ErrOtpRequired = errors.New("one-time passcode required")

// ErrUnknownProvider is returned by the registry for providers without an
// adapter. The worker reports it without launching a browser.
var ErrUnknownProvider = errors.New("unknown provider")

// Scraper is the capability every provider adapter implements: drive a
// headless browser through login with the given credentials and return a
// normalized report. Run owns the entire browser lifecycle and must release
// every browser resource on all exit paths. Each call is a fresh browser
// session; there is no resuming a prior one.
type Scraper interface {
	Provider() string
	Run(ctx context.Context, creds *models.Credentials) (*models.NormalizedReport, error)
}

// Registry maps provider names to adapters.
type Registry struct {
	mu       sync.RWMutex
	scrapers map[string]Scraper
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{scrapers: make(map[string]Scraper)}
}

// Register adds an adapter, replacing any previous one for the provider.
func (r *Registry) Register(s Scraper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scrapers[s.Provider()] = s
}

// Get looks up the adapter for a provider.
func (r *Registry) Get(provider string) (Scraper, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scrapers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return s, nil
}

// Providers returns the registered provider names, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.scrapers))
	for name := range r.scrapers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
