// Package ratelimit bounds how fast a single remote address may push
// frames into the broker. Grounded on songify's per-IP token-bucket
// middleware, adapted from an HTTP-request gate into a per-connection
// frame gate: Allow is called from the transport's read loop instead of
// an http.Handler chain.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// CloseCallback stops a Registry's eviction goroutine as an
// event.Callable, run during graceful shutdown.
type CloseCallback struct {
	registry *Registry
}

// NewCloseCallback returns a Callable that closes registry.
func NewCloseCallback(registry *Registry) *CloseCallback {
	return &CloseCallback{registry: registry}
}

func (cc *CloseCallback) Invoke(ctx context.Context) error {
	cc.registry.Close()
	return nil
}

// visitor tracks limiter state for a single remote address.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Registry hands out a token-bucket limiter per remote address and
// evicts entries that have been idle for a while.
type Registry struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	stop     chan struct{}
}

// New creates a Registry allowing requestsPerMinute sustained throughput
// per address with the given burst allowance, and starts its background
// eviction goroutine.
func New(requestsPerMinute, burst int) *Registry {
	r := &Registry{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    burst,
		stop:     make(chan struct{}),
	}
	go r.evictStale()
	return r
}

// Allow reports whether a frame from addr may be processed now,
// consuming one token from its bucket if so.
func (r *Registry) Allow(addr string) bool {
	return r.visitorFor(addr).Allow()
}

func (r *Registry) visitorFor(addr string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.visitors[addr]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(r.rate, r.burst), lastSeen: time.Now()}
		r.visitors[addr] = v
		return v.limiter
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// Forget removes addr's bucket immediately, called when a connection
// closes so short-lived clients don't linger until the next sweep.
func (r *Registry) Forget(addr string) {
	r.mu.Lock()
	delete(r.visitors, addr)
	r.mu.Unlock()
}

// Close stops the background eviction goroutine.
func (r *Registry) Close() {
	close(r.stop)
}

func (r *Registry) evictStale() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			for addr, v := range r.visitors {
				if time.Since(v.lastSeen) > 3*time.Minute {
					delete(r.visitors, addr)
				}
			}
			r.mu.Unlock()
		}
	}
}
