package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
)

// MockTarget implements TargetSystem in memory for tests and local runs.
type MockTarget struct {
	mu       sync.RWMutex
	masters  map[string]map[domain.CatalogKind]map[string]string // company -> kind -> folded -> name
	vouchers map[string][]Voucher

	// failNext is returned once by the next import. With acceptBeforeFail
	// the master is stored first, as happens when a call times out after
	// the target committed it.
	failNext         *SyncError
	acceptBeforeFail bool
	delay            time.Duration
	pingErr          error

	createCalls int
	exportCalls int
	payloads    []domain.CreationPayload
}

// NewMockTarget creates an empty MockTarget.
func NewMockTarget() *MockTarget {
	return &MockTarget{
		masters:  make(map[string]map[domain.CatalogKind]map[string]string),
		vouchers: make(map[string][]Voucher),
	}
}

// Seed adds existing masters.
func (m *MockTarget) Seed(company string, kind domain.CatalogKind, names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range names {
		m.put(company, kind, n)
	}
}

// FailNext makes the next import fail with kind. With accepted=true the
// master is stored anyway.
func (m *MockTarget) FailNext(kind domain.SyncErrorKind, msg string, accepted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = &SyncError{Kind: kind, Message: msg}
	m.acceptBeforeFail = accepted
}

// SetDelay makes every import wait d or until ctx is done.
func (m *MockTarget) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetPingError makes Ping return err.
func (m *MockTarget) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

// CreateCalls returns how many CreateMaster calls reached the target.
func (m *MockTarget) CreateCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.createCalls
}

// Payloads returns every master payload submitted, in order.
func (m *MockTarget) Payloads() []domain.CreationPayload {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.CreationPayload, len(m.payloads))
	copy(out, m.payloads)
	return out
}

// ExportCalls returns how many ExportCollection calls were made.
func (m *MockTarget) ExportCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.exportCalls
}

// Vouchers returns the vouchers posted for company.
func (m *MockTarget) Vouchers(company string) []Voucher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Voucher(nil), m.vouchers[company]...)
}

// Has reports whether the master exists.
func (m *MockTarget) Has(company string, kind domain.CatalogKind, name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.masters[company][kind][domain.NormalizeName(name)]
	return ok
}

func (m *MockTarget) Name() string { return "mock" }

func (m *MockTarget) CreateMaster(ctx context.Context, company string, p domain.CreationPayload) (*Result, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	m.payloads = append(m.payloads, p)

	kind := p.MasterType.Kind()
	if fail := m.takeFailure(); fail != nil {
		if m.acceptBeforeFail {
			m.put(company, kind, p.Name)
		}
		return nil, fail
	}
	if _, exists := m.masters[company][kind][domain.NormalizeName(p.Name)]; exists {
		return nil, &SyncError{
			Kind:    domain.SyncDuplicateConflict,
			Message: fmt.Sprintf("%s '%s' already exists", kind, p.Name),
		}
	}
	m.put(company, kind, p.Name)
	return &Result{Created: 1}, nil
}

func (m *MockTarget) PostVoucher(ctx context.Context, company string, v Voucher) (*Result, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if fail := m.takeFailure(); fail != nil {
		return nil, fail
	}
	m.vouchers[company] = append(m.vouchers[company], v)
	return &Result{Created: 1, VoucherNumber: v.Number}, nil
}

func (m *MockTarget) ExportCollection(_ context.Context, company string, kind domain.CatalogKind) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exportCalls++
	if m.pingErr != nil {
		return nil, &SyncError{Kind: domain.SyncUnreachable, Message: "export", Err: m.pingErr}
	}
	names := make([]string, 0, len(m.masters[company][kind]))
	for _, n := range m.masters[company][kind] {
		names = append(names, n)
	}
	return names, nil
}

func (m *MockTarget) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingErr
}

func (m *MockTarget) wait(ctx context.Context) error {
	m.mu.RLock()
	d := m.delay
	m.mu.RUnlock()
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return &SyncError{Kind: domain.SyncTimeout, Message: "call timed out", Err: ctx.Err()}
	}
}

func (m *MockTarget) takeFailure() *SyncError {
	f := m.failNext
	m.failNext = nil
	return f
}

func (m *MockTarget) put(company string, kind domain.CatalogKind, name string) {
	byKind, ok := m.masters[company]
	if !ok {
		byKind = make(map[domain.CatalogKind]map[string]string)
		m.masters[company] = byKind
	}
	names, ok := byKind[kind]
	if !ok {
		names = make(map[string]string)
		byKind[kind] = names
	}
	names[domain.NormalizeName(name)] = name
}
