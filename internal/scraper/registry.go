package scraper

import (
	"fmt"
	"sync"
	"time"
)

// Registry holds provider adapters and the process-wide exclusive search
// lock serializing expensive search operations.
type Registry struct {
	mu        sync.RWMutex
	scrapers  map[string]Scraper
	timings   map[string]time.Duration

	lockMu sync.Mutex
	holder string
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		scrapers: make(map[string]Scraper),
		timings:  make(map[string]time.Duration),
	}
}

// Register adds or replaces an adapter under its own ProviderName.
func (r *Registry) Register(s Scraper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scrapers[s.ProviderName()] = s
}

// Get returns the adapter for provider, or false if not registered.
func (r *Registry) Get(provider string) (Scraper, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scrapers[provider]
	return s, ok
}

// All returns every registered adapter, order unspecified.
func (r *Registry) All() []Scraper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Scraper, 0, len(r.scrapers))
	for _, s := range r.scrapers {
		out = append(out, s)
	}
	return out
}

// RecordTiming stores the latest single-search duration for telemetry.
func (r *Registry) RecordTiming(provider string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timings[provider] = d
}

// Timing returns the last recorded single-search duration for provider.
func (r *Registry) Timing(provider string) (time.Duration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.timings[provider]
	return d, ok
}

// AcquireSearchLock is a non-reentrant, process-wide lock. holderID
// identifies the caller (task id, API token id, or scheduler job id per
// LockHolder design note). Returns false if already held.
func (r *Registry) AcquireSearchLock(holderID string) bool {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	if r.holder != "" {
		return false
	}
	r.holder = holderID
	return true
}

// ReleaseSearchLock releases the lock only if holderID matches the current
// holder, so a release is provably matched to its acquire.
func (r *Registry) ReleaseSearchLock(holderID string) error {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	if r.holder != holderID {
		return fmt.Errorf("scraper: release by non-holder %q (holder is %q)", holderID, r.holder)
	}
	r.holder = ""
	return nil
}
