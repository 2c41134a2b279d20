// Package netmon tracks reachability of the remote authority and notifies
// subscribers on transitions. Offline is a normal operating state, not an
// error condition.
package netmon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fieldsync/fieldsync/internal/loggy"
)

// ConnectionType is a coarse classification of the active network link.
type ConnectionType string

const (
	// TypeNone means no usable link
	TypeNone ConnectionType = "none"
	// TypeWifi means a wireless LAN link
	TypeWifi ConnectionType = "wifi"
	// TypeCellular means a mobile data link
	TypeCellular ConnectionType = "cellular"
	// TypeWired means an ethernet or otherwise unclassified link
	TypeWired ConnectionType = "wired"
)

// Status is a snapshot of connectivity at a point in time.
type Status struct {
	Connected bool           `json:"connected"`
	Type      ConnectionType `json:"type"`
	CheckedAt time.Time      `json:"checked_at"`
}

// Probe answers whether the remote authority is reachable right now.
type Probe interface {
	Reachable(ctx context.Context) bool
}

// HTTPProbe checks reachability with a HEAD request. Any HTTP response counts
// as reachable; only a transport failure means offline.
type HTTPProbe struct {
	url    string
	client *http.Client
}

// NewHTTPProbe creates a probe against the given URL.
func NewHTTPProbe(url string, timeout time.Duration) *HTTPProbe {
	return &HTTPProbe{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Reachable reports whether the probe URL answered at all.
func (p *HTTPProbe) Reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// Monitor holds the current connectivity status and fans transitions out to
// subscribers. While offline it re-probes on an exponential backoff so
// reconnection is noticed without hammering the network.
type Monitor struct {
	probe    Probe
	logger   *loggy.Logger
	interval time.Duration

	mu      sync.Mutex
	status  Status
	subs    map[int]chan Status
	nextSub int
}

// NewMonitor creates a monitor. The initial status is offline until the first
// probe completes; interval is the re-check cadence while online.
func NewMonitor(probe Probe, interval time.Duration, logger *loggy.Logger) *Monitor {
	return &Monitor{
		probe:    probe,
		logger:   logger,
		interval: interval,
		status:   Status{Connected: false, Type: TypeNone, CheckedAt: time.Now()},
		subs:     make(map[int]chan Status),
	}
}

// Status returns the last observed connectivity snapshot.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Online is a convenience for Status().Connected.
func (m *Monitor) Online() bool {
	return m.Status().Connected
}

// Subscribe registers for status transitions. Only changes are delivered, not
// every probe. The returned cancel func must be called to release the channel.
func (m *Monitor) Subscribe() (<-chan Status, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan Status, 4)
	m.subs[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Refresh probes immediately and returns the fresh status.
func (m *Monitor) Refresh(ctx context.Context) Status {
	connected := m.probe.Reachable(ctx)

	status := Status{
		Connected: connected,
		Type:      TypeNone,
		CheckedAt: time.Now(),
	}
	if connected {
		status.Type = linkType()
	}

	m.setStatus(status)
	return status
}

// Run probes until the context is canceled: at the configured interval while
// online, on an exponential backoff while offline. Blocks; run in a goroutine.
func (m *Monitor) Run(ctx context.Context) {
	m.Refresh(ctx)

	for {
		var wait time.Duration
		if m.Online() {
			wait = m.interval
		} else {
			wait = m.offlineWait(ctx)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			m.Refresh(ctx)
		}
	}
}

// offlineWait blocks through one backoff cycle of failed probes and returns a
// zero wait once the probe succeeds, so Run picks the change up immediately.
func (m *Monitor) offlineWait(ctx context.Context) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 2 * time.Minute
	bo.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		if m.probe.Reachable(ctx) {
			return nil
		}
		return errProbeFailed
	}, backoff.WithContext(bo, ctx))

	if err == nil {
		m.Refresh(ctx)
	}
	return 0
}

func (m *Monitor) setStatus(status Status) {
	m.mu.Lock()
	changed := status.Connected != m.status.Connected || status.Type != m.status.Type
	m.status = status

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

	m.logger.Info("Connectivity changed", "connected", status.Connected, "type", status.Type)

	for _, ch := range subs {
		select {
		case ch <- status:
		default:
			// Slow subscriber; it will catch up via Status().
		}
	}
}

var errProbeFailed = errors.New("probe failed")

// linkType guesses the link class from the active interface names. Coarse on
// purpose; consumers only branch on none vs anything else.
func linkType() ConnectionType {
	ifaces, err := net.Interfaces()
	if err != nil {
		return TypeWired
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		name := strings.ToLower(iface.Name)
		switch {
		case strings.HasPrefix(name, "wl"):
			return TypeWifi
		case strings.HasPrefix(name, "ww"), strings.HasPrefix(name, "rmnet"):
			return TypeCellular
		}
	}
	return TypeWired
}
