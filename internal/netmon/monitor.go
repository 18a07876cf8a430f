// Package netmon observes reachability of the chat server and exposes the
// last-known status, forced probes, and transition subscriptions.
package netmon

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/chatup-app/chatup/internal/bus"
)

// Status is a point-in-time connectivity report.
type Status struct {
	Online bool
}

const (
	defaultProbeInterval = 15 * time.Second
	defaultProbeTimeout  = 3 * time.Second
)

// Monitor probes the server endpoint and tracks online/offline transitions.
// Probe failures mean offline; the monitor never returns an error.
type Monitor struct {
	probeURL string
	client   *http.Client
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration

	// Throttles forced probes so a burst of CheckNow callers collapses to
	// the last fresh result instead of hammering the server.
	limiter *rate.Limiter

	mu     sync.RWMutex
	online bool
	subs   map[int]chan Status
	nextID int

	cancel context.CancelFunc
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval overrides the background probe interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithHTTPClient overrides the probe client.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Monitor) { m.client = c }
}

// New creates a monitor probing probeURL. The initial status is offline until
// the first probe says otherwise.
func New(probeURL string, b *bus.Bus, logger *zap.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{
		probeURL: probeURL,
		client:   &http.Client{Timeout: defaultProbeTimeout},
		bus:      b,
		logger:   logger,
		interval: defaultProbeInterval,
		limiter:  rate.NewLimiter(rate.Every(200*time.Millisecond), 3),
		subs:     make(map[int]chan Status),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Online returns the last-known status without probing.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// CheckNow forces a fresh reachability probe and returns the result. Under
// probe-storm conditions the throttle returns the last-known status instead.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	if !m.limiter.Allow() {
		return m.Online()
	}
	online := m.probe(ctx)
	m.setOnline(online)
	return online
}

// Subscribe registers for transition notifications. Every online→offline or
// offline→online flip is delivered to each subscriber; delivery order across
// subscribers is unspecified.
func (m *Monitor) Subscribe(bufSize int) (<-chan Status, func()) {
	ch := make(chan Status, bufSize)
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Start launches the periodic background probe.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.loop(ctx)
}

// Stop halts the background probe.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Monitor) loop(ctx context.Context) {
	// Probe once at startup so the daemon doesn't wait a full interval to
	// learn it is online.
	m.setOnline(m.probe(ctx))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.setOnline(m.probe(ctx))
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode < 500
}

func (m *Monitor) setOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	var subs []chan Status
	if changed {
		for _, ch := range m.subs {
			subs = append(subs, ch)
		}
	}
	m.mu.Unlock()

	if !changed {
		return
	}

	m.logger.Info("connectivity changed", zap.Bool("online", online))
	st := Status{Online: online}
	for _, ch := range subs {
		select {
		case ch <- st:
		default:
		}
	}
	if m.bus != nil {
		kind := bus.KindNetworkOffline
		if online {
			kind = bus.KindNetworkOnline
		}
		m.bus.Publish(bus.NewEvent(kind, st))
	}
}
