// Package catalog keeps a per-company snapshot of the masters that exist in
// the target system and answers existence checks from it.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
	apperrors "github.com/Data-Analyst4/tally-connect/internal/pkg/errors"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/logger"
)

// Exporter lists the masters of one kind. provider.TargetSystem satisfies it.
type Exporter interface {
	ExportCollection(ctx context.Context, company string, kind domain.CatalogKind) ([]string, error)
}

// SnapshotStore shares snapshots between replicas.
type SnapshotStore interface {
	// Load returns the stored snapshot, or nil when there is none.
	Load(ctx context.Context, company string) (*SnapshotData, error)
	Save(ctx context.Context, data SnapshotData) error
}

// Options configure a Catalog.
type Options struct {
	// MaxStaleness is the age after which a snapshot no longer answers.
	MaxStaleness time.Duration
	// RefreshTimeout bounds one full export.
	RefreshTimeout time.Duration
	// Store is optional.
	Store SnapshotStore
	// TargetCompany maps a source company to the target's company name.
	TargetCompany func(company string) string
	// OnRefresh is called after every successful refresh.
	OnRefresh func(company string, counts map[domain.CatalogKind]int, took time.Duration)
	Now       func() time.Time
}

// Catalog answers existence checks from atomically swapped snapshots.
// Readers never block on a refresh.
type Catalog struct {
	exporter Exporter
	opts     Options

	snapshots atomic.Pointer[map[string]*Snapshot]
	writeMu   sync.Mutex // serializes copy-on-write of the snapshot map
	group     singleflight.Group
}

// New creates a Catalog with no snapshots loaded.
func New(exporter Exporter, opts Options) *Catalog {
	if opts.MaxStaleness <= 0 {
		opts.MaxStaleness = 30 * time.Minute
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 2 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TargetCompany == nil {
		opts.TargetCompany = func(c string) string { return c }
	}
	c := &Catalog{exporter: exporter, opts: opts}
	empty := map[string]*Snapshot{}
	c.snapshots.Store(&empty)
	return c
}

// Exists reports whether the master exists in the target. It fails with
// CATALOG_UNAVAILABLE when no snapshot was ever loaded for company or the
// snapshot is older than MaxStaleness; it never guesses.
func (c *Catalog) Exists(ctx context.Context, company string, t domain.MasterType, name string) (bool, error) {
	kind := t.Kind()
	if kind == "" {
		return false, apperrors.ErrValidation("master_type", fmt.Sprintf("unsupported master type %q", t))
	}
	snap, err := c.fresh(ctx, company)
	if err != nil {
		return false, err
	}
	return snap.Has(kind, name), nil
}

// Snapshot returns a fresh snapshot for company for batch lookups.
func (c *Catalog) Snapshot(ctx context.Context, company string) (*Snapshot, error) {
	return c.fresh(ctx, company)
}

func (c *Catalog) fresh(ctx context.Context, company string) (*Snapshot, error) {
	snap := c.current(company)
	if snap != nil && !c.stale(snap) {
		return snap, nil
	}

	// another replica may have refreshed
	if adopted := c.adopt(ctx, company, snap); adopted != nil {
		return adopted, nil
	}

	if snap == nil {
		return nil, apperrors.ErrCatalogUnavailable(fmt.Errorf("no snapshot loaded for %q", company))
	}
	return nil, apperrors.ErrCatalogUnavailable(
		fmt.Errorf("snapshot for %q is %s old", company, c.opts.Now().Sub(snap.LoadedAt()).Round(time.Second))).
		WithParam("loaded_at", snap.LoadedAt())
}

func (c *Catalog) adopt(ctx context.Context, company string, have *Snapshot) *Snapshot {
	if c.opts.Store == nil {
		return nil
	}
	data, err := c.opts.Store.Load(ctx, company)
	if err != nil {
		logger.Warn("Catalog snapshot store load failed", logger.Company(company), zap.Error(err))
		return nil
	}
	if data == nil {
		return nil
	}
	snap := FromData(*data)
	if c.stale(snap) || (have != nil && !snap.LoadedAt().After(have.LoadedAt())) {
		return nil
	}
	c.swap(company, func(*Snapshot) *Snapshot { return snap })
	logger.Info("Adopted shared catalog snapshot", logger.Company(company), zap.Time("loaded_at", snap.LoadedAt()))
	return snap
}

func (c *Catalog) stale(s *Snapshot) bool {
	return c.opts.Now().Sub(s.LoadedAt()) > c.opts.MaxStaleness
}

func (c *Catalog) current(company string) *Snapshot {
	return (*c.snapshots.Load())[company]
}

// swap replaces the snapshot of company with next(current).
func (c *Catalog) swap(company string, next func(*Snapshot) *Snapshot) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	old := *c.snapshots.Load()
	m := make(map[string]*Snapshot, len(old)+1)
	for k, v := range old {
		m[k] = v
	}
	m[company] = next(old[company])
	c.snapshots.Store(&m)
}

// ForceRefresh exports every collection for company and swaps the result
// in. Concurrent calls for the same company share one export. The export is
// detached from the caller's cancellation so one impatient caller does not
// fail the others; RefreshTimeout still bounds it.
func (c *Catalog) ForceRefresh(ctx context.Context, company string) (*Snapshot, error) {
	ch := c.group.DoChan(company, func() (interface{}, error) {
		return c.refresh(context.WithoutCancel(ctx), company)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Catalog) refresh(ctx context.Context, company string) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.RefreshTimeout)
	defer cancel()

	start := c.opts.Now()
	target := c.opts.TargetCompany(company)

	var mu sync.Mutex
	names := make(map[domain.CatalogKind][]string, len(domain.CatalogKinds))

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range domain.CatalogKinds {
		g.Go(func() error {
			list, err := c.exporter.ExportCollection(gctx, target, kind)
			if err != nil {
				return fmt.Errorf("export %s: %w", kind, err)
			}
			mu.Lock()
			names[kind] = list
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("Catalog refresh failed", logger.Company(company), zap.Error(err))
		return nil, apperrors.ErrCatalogUnavailable(err)
	}

	snap := NewSnapshot(company, c.opts.Now(), names)
	c.swap(company, func(*Snapshot) *Snapshot { return snap })
	took := c.opts.Now().Sub(start)

	if c.opts.Store != nil {
		if err := c.opts.Store.Save(ctx, snap.Data()); err != nil {
			logger.Warn("Catalog snapshot publish failed", logger.Company(company), zap.Error(err))
		}
	}
	if c.opts.OnRefresh != nil {
		c.opts.OnRefresh(company, snap.Counts(), took)
	}

	logger.Info("Catalog refreshed",
		logger.Company(company),
		zap.String("target_company", target),
		zap.Duration("took", took),
	)
	return snap, nil
}

// Record adds a master that was just created so checks see it before the
// next refresh. It is a no-op when no snapshot is loaded for company.
func (c *Catalog) Record(company string, t domain.MasterType, name string) {
	kind := t.Kind()
	if kind == "" {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	old := *c.snapshots.Load()
	cur, ok := old[company]
	if !ok {
		return
	}
	m := make(map[string]*Snapshot, len(old))
	for k, v := range old {
		m[k] = v
	}
	m[company] = cur.With(kind, name)
	c.snapshots.Store(&m)
}

// Status describes the snapshot of one company.
type Status struct {
	Company  string                     `json:"company"`
	Loaded   bool                       `json:"loaded"`
	LoadedAt *time.Time                 `json:"loaded_at,omitempty"`
	Age      string                     `json:"age,omitempty"`
	Stale    bool                       `json:"stale"`
	Counts   map[domain.CatalogKind]int `json:"counts,omitempty"`
}

// Status reports the freshness of the snapshot for company.
func (c *Catalog) Status(company string) Status {
	st := Status{Company: company}
	snap := c.current(company)
	if snap == nil {
		st.Stale = true
		return st
	}
	loaded := snap.LoadedAt()
	st.Loaded = true
	st.LoadedAt = &loaded
	st.Age = c.opts.Now().Sub(loaded).Round(time.Second).String()
	st.Stale = c.stale(snap)
	st.Counts = snap.Counts()
	return st
}

// Companies lists the companies with a loaded snapshot, sorted.
func (c *Catalog) Companies() []string {
	m := *c.snapshots.Load()
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
