package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Manager owns the pages opened on one runtime. Each worker holds exactly
// one page, keyed by its session id.
type Manager struct {
	runtime Runtime
	metrics *Metrics

	mu    sync.Mutex
	pages map[string]BrowserSession
}

// NewManager creates a Manager backed by runtime. metrics may be nil.
func NewManager(runtime Runtime, metrics *Metrics) *Manager {
	return &Manager{
		runtime: runtime,
		metrics: metrics,
		pages:   make(map[string]BrowserSession),
	}
}

// Metrics returns the counters shared by every page.
func (m *Manager) Metrics() *Metrics {
	if m == nil {
		return nil
	}
	return m.metrics
}

// CreateSession opens a page for cfg.SessionID. The id is reserved before
// the runtime is asked for a tab, so two workers can never share one.
func (m *Manager) CreateSession(ctx context.Context, cfg SessionConfig) (BrowserSession, error) {
	if m == nil || m.runtime == nil {
		return nil, ErrUnavailable
	}
	id := cfg.SessionID
	if id == "" {
		return nil, fmt.Errorf("session id is required")
	}

	m.mu.Lock()
	if _, taken := m.pages[id]; taken {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	m.pages[id] = nil
	m.mu.Unlock()

	page, err := m.runtime.NewSession(ctx, cfg)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		delete(m.pages, id)
		return nil, err
	}
	page = instrument(page, m.metrics)
	m.pages[id] = page
	m.metrics.RecordSessionCreated()
	return page, nil
}

// Session returns the open page for id.
func (m *Manager) Session(id string) (BrowserSession, bool) {
	if m == nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	page := m.pages[id]
	return page, page != nil
}

// Active is the number of open pages.
func (m *Manager) Active() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, page := range m.pages {
		if page != nil {
			n++
		}
	}
	return n
}

// CloseSession closes the page for id. A page that is not open reports
// ErrSessionClosed.
func (m *Manager) CloseSession(id string) error {
	if m == nil {
		return ErrUnavailable
	}
	m.mu.Lock()
	page := m.pages[id]
	if page != nil {
		delete(m.pages, id)
	}
	m.mu.Unlock()

	if page == nil {
		return ErrSessionClosed
	}
	return m.release(page)
}

// Close closes every page, then the runtime. All errors are joined.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	pages := m.pages
	m.pages = make(map[string]BrowserSession)
	m.mu.Unlock()

	var errs []error
	for _, page := range pages {
		if page == nil {
			continue
		}
		errs = append(errs, m.release(page))
	}
	if m.runtime != nil {
		errs = append(errs, m.runtime.Close())
	}
	return errors.Join(errs...)
}

func (m *Manager) release(page BrowserSession) error {
	m.metrics.RecordSessionClosed()
	return page.Close()
}
