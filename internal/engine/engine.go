// Package engine wires the download engine's components (RateLimiter,
// ConnectionPool, StateStore, TokenRefresher, ChunkFetcher, FileDownloader,
// BatchScheduler) into the single shared instance a CLI or other caller
// drives, in the teacher's style of a small top-level facade composing its
// concurrent/ and engine/ subpackages.
package engine

import (
	"crypto/tls"
	"net"
	"net/http"

	"github.com/streampull/streampull/internal/engine/active"
	"github.com/streampull/streampull/internal/engine/auth"
	"github.com/streampull/streampull/internal/engine/download"
	"github.com/streampull/streampull/internal/engine/pool"
	"github.com/streampull/streampull/internal/engine/ratelimit"
	"github.com/streampull/streampull/internal/engine/scheduler"
	"github.com/streampull/streampull/internal/engine/state"
	"github.com/streampull/streampull/internal/engine/types"
)

// Engine is one running instance of the download engine: a shared
// connection pool and rate limiter, a state store rooted at a configurable
// directory, and a scheduler that drives jobs against them. Two instances
// must not share a state directory (spec.md §1 Non-goals).
type Engine struct {
	Config    types.EngineConfig
	Pool      *pool.Pool
	Limiter   *ratelimit.Limiter
	Store     *state.Store
	Active    *active.Registry
	Scheduler *scheduler.Scheduler
}

// New builds an Engine with its own HTTP client tuned the way the teacher
// tunes its concurrent-download transport, persisting resume state under
// stateDir.
func New(cfg types.EngineConfig, stateDir string) (*Engine, error) {
	store, err := state.New(stateDir)
	if err != nil {
		return nil, err
	}

	client := newClient(cfg.MaxConnectionsPerHost)

	connPool := pool.New(cfg.MaxConcurrentFiles*cfg.MaxChunksPerFile, cfg.MaxConnectionsPerHost)
	limiter := ratelimit.New()
	if cfg.MaxSpeedLimitBps > 0 {
		limiter.SetGlobalLimit(cfg.MaxSpeedLimitBps)
	}
	refresher := auth.New(client, cfg.UserAgent)
	registry := active.NewRegistry()

	downloader := download.New(cfg, client, connPool, limiter, refresher, store, registry)
	sched := scheduler.New(cfg, downloader, limiter, registry, store)

	return &Engine{
		Config:    cfg,
		Pool:      connPool,
		Limiter:   limiter,
		Store:     store,
		Active:    registry,
		Scheduler: sched,
	}, nil
}

// newClient builds an http.Client tuned for many concurrent range
// requests, matching the teacher's internal/engine/concurrent transport
// (HTTP/1.1 forced so multiple TCP connections are actually used, modest
// idle-connection reuse, a 60s connect timeout and a 30s response-header
// timeout). No timeout applies to individual body reads once the response
// headers have arrived.
func newClient(maxConnsPerHost int) *http.Client {
	if maxConnsPerHost < 1 {
		maxConnsPerHost = 1
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: maxConnsPerHost + 2,
		MaxConnsPerHost:     0, // the engine's own pool enforces the cap, not the transport

		IdleConnTimeout:       types.DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   types.DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: types.DefaultResponseHeaderTimeout,
		ExpectContinueTimeout: types.DefaultExpectContinueTimeout,

		DisableCompression: true,
		ForceAttemptHTTP2:  false,
		TLSNextProto:       make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),

		DialContext: (&net.Dialer{
			Timeout:   types.ConnectTimeout,
			KeepAlive: types.KeepAliveDuration,
		}).DialContext,
	}

	return &http.Client{Transport: transport}
}
