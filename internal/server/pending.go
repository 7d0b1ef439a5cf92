package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ifuryst/cadence/internal/service"
)

type pendingEntry struct {
	proposal  *service.Pending
	expiresAt time.Time
}

// pendingRegistry holds reschedule proposals between propose and
// confirm/cancel. Entries expire after ttl and are never persisted.
type pendingRegistry struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]pendingEntry
	gauge   prometheus.Gauge
	now     func() time.Time
}

func newPendingRegistry(ttl time.Duration, gauge prometheus.Gauge) *pendingRegistry {
	return &pendingRegistry{
		ttl:     ttl,
		entries: make(map[string]pendingEntry),
		gauge:   gauge,
		now:     time.Now,
	}
}

// Put stores p and returns its token and expiry.
func (r *pendingRegistry) Put(p *service.Pending) (string, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()
	token := uuid.NewString()
	expires := r.now().Add(r.ttl)
	r.entries[token] = pendingEntry{proposal: p, expiresAt: expires}
	r.gauge.Set(float64(len(r.entries)))
	return token, expires
}

// Take removes and returns the proposal for token. Expired proposals are
// reported as missing.
func (r *pendingRegistry) Take(token string) (*service.Pending, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[token]
	if ok {
		delete(r.entries, token)
	}
	r.sweepLocked()
	r.gauge.Set(float64(len(r.entries)))
	if !ok || !r.now().Before(e.expiresAt) {
		return nil, false
	}
	return e.proposal, true
}

func (r *pendingRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *pendingRegistry) sweepLocked() {
	now := r.now()
	for token, e := range r.entries {
		if !now.Before(e.expiresAt) {
			delete(r.entries, token)
		}
	}
}
