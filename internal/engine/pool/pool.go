// Package pool implements the engine's two-level connection gate: a global
// concurrency cap and a per-host cap beneath it (spec.md §4.2), grounded on
// the teacher's semaphore-based connection limiting in
// internal/engine/concurrent, generalized from a single download's worker
// gate to a pool shared across every job in one engine instance.
package pool

import (
	"context"
	"net/url"
	"sync"
)

// Pool is a global semaphore plus lazily-created per-host semaphores
// beneath it. The global slot is always acquired before, and released
// after, the per-host slot, so no lock-inversion deadlock can occur across
// hosts (spec.md §4.2).
type Pool struct {
	maxPerHost int
	global     chan struct{}

	mu       sync.Mutex
	hostSems map[string]chan struct{}
	hostCnt  map[string]int
	urlCnt   map[string]int
}

// New returns a Pool bounding total in-flight requests at maxGlobal and
// per-host in-flight requests at maxPerHost.
func New(maxGlobal, maxPerHost int) *Pool {
	if maxGlobal < 1 {
		maxGlobal = 1
	}
	if maxPerHost < 1 {
		maxPerHost = 1
	}
	return &Pool{
		maxPerHost: maxPerHost,
		global:     make(chan struct{}, maxGlobal),
		hostSems:   make(map[string]chan struct{}),
		hostCnt:    make(map[string]int),
		urlCnt:     make(map[string]int),
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}

func (p *Pool) hostGate(host string) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.hostSems[host]
	if !ok {
		g = make(chan struct{}, p.maxPerHost)
		p.hostSems[host] = g
	}
	return g
}

// Acquire blocks until a global slot and a per-host slot for url's host are
// both held, in that order. The returned release func must be called
// exactly once to free both slots, in reverse order.
func (p *Pool) Acquire(ctx context.Context, rawURL string) (release func(), err error) {
	select {
	case p.global <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	host := hostOf(rawURL)
	hostSem := p.hostGate(host)

	select {
	case hostSem <- struct{}{}:
	case <-ctx.Done():
		<-p.global
		return nil, ctx.Err()
	}

	p.mu.Lock()
	p.hostCnt[host]++
	p.urlCnt[rawURL]++
	p.mu.Unlock()

	var once sync.Once
	release = func() {
		once.Do(func() {
			<-hostSem
			<-p.global

			p.mu.Lock()
			p.hostCnt[host]--
			if p.hostCnt[host] <= 0 {
				delete(p.hostCnt, host)
			}
			p.urlCnt[rawURL]--
			if p.urlCnt[rawURL] <= 0 {
				delete(p.urlCnt, rawURL)
			}
			p.mu.Unlock()
		})
	}
	return release, nil
}

// HostInflight reports the number of requests currently in flight to
// url's host.
func (p *Pool) HostInflight(rawURL string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hostCnt[hostOf(rawURL)]
}

// URLInflight reports the number of requests currently in flight for the
// exact URL.
func (p *Pool) URLInflight(rawURL string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.urlCnt[rawURL]
}
