package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/riverqueue/river"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
	apperrors "github.com/Data-Analyst4/tally-connect/internal/pkg/errors"
)

// EnqueuedJob is a job accepted by a MemoryStore transaction.
type EnqueuedJob struct {
	Args river.JobArgs
	Opts *river.InsertOpts
}

// MemoryStore is an in-process Store. Jobs enqueued by updates are handed
// to OnEnqueue after the update commits.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[string]*domain.MasterCreationRequest
	active   map[string]string // identity key -> request id
	logs     []domain.SyncLog
	pushes   map[string]domain.TransactionPush
	jobs     []EnqueuedJob

	onEnqueue func(ctx context.Context, job EnqueuedJob)
	now       func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]*domain.MasterCreationRequest),
		active:   make(map[string]string),
		pushes:   make(map[string]domain.TransactionPush),
		now:      time.Now,
	}
}

// OnEnqueue registers a hook that receives committed jobs.
func (s *MemoryStore) OnEnqueue(fn func(ctx context.Context, job EnqueuedJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnqueue = fn
}

// Jobs returns every committed job in order.
func (s *MemoryStore) Jobs() []EnqueuedJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EnqueuedJob, len(s.jobs))
	copy(out, s.jobs)
	return out
}

func (s *MemoryStore) CreateOrGetActive(_ context.Context, req *domain.MasterCreationRequest) (*domain.MasterCreationRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := req.Identity().Key()
	if id, ok := s.active[key]; ok {
		return s.requests[id].Clone(), false, nil
	}
	stored := req.Clone()
	if stored.Version == 0 {
		stored.Version = 1
	}
	s.requests[stored.ID] = stored
	if stored.Status.Active() {
		s.active[key] = stored.ID
	}
	return stored.Clone(), true, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.MasterCreationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, apperrors.ErrRequestNotFound(id)
	}
	return req.Clone(), nil
}

func (s *MemoryStore) FindActive(_ context.Context, identity domain.Identity) (*domain.MasterCreationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.active[identity.Key()]
	if !ok {
		return nil, nil
	}
	return s.requests[id].Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]*domain.MasterCreationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.MasterCreationRequest, 0, len(s.requests))
	for _, req := range s.requests {
		if matches(req, filter) {
			out = append(out, req.Clone())
		}
	}
	sortQueue(out)

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []*domain.MasterCreationRequest{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matches(req *domain.MasterCreationRequest, f ListFilter) bool {
	if f.Company != "" && req.Company != f.Company {
		return false
	}
	if f.MasterType != "" && req.MasterType != f.MasterType {
		return false
	}
	if f.AssignedTo != "" && req.AssignedTo != f.AssignedTo {
		return false
	}
	if len(f.Status) == 0 {
		return true
	}
	for _, st := range f.Status {
		if req.Status == st {
			return true
		}
	}
	return false
}

// sortQueue orders most urgent first, then oldest first.
func sortQueue(reqs []*domain.MasterCreationRequest) {
	sort.SliceStable(reqs, func(i, j int) bool {
		a, b := reqs[i], reqs[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() > b.Priority.Rank()
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

type memoryTx struct {
	jobs []EnqueuedJob
}

func (t *memoryTx) Enqueue(_ context.Context, args river.JobArgs, opts *river.InsertOpts) error {
	t.jobs = append(t.jobs, EnqueuedJob{Args: args, Opts: opts})
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn UpdateFunc) (*domain.MasterCreationRequest, error) {
	s.mu.Lock()
	cur, ok := s.requests[id]
	if !ok {
		s.mu.Unlock()
		return nil, apperrors.ErrRequestNotFound(id)
	}

	tx := &memoryTx{}
	next, err := fn(ctx, cur.Clone(), tx)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if next == nil {
		s.mu.Unlock()
		return cur.Clone(), nil
	}
	if err := checkUpdate(cur, next); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	stored := next.Clone()
	stored.Version = cur.Version + 1
	stored.UpdatedAt = s.now().UTC()
	s.requests[id] = stored

	key := stored.Identity().Key()
	if stored.Status.Active() {
		s.active[key] = id
	} else if s.active[key] == id {
		delete(s.active, key)
	}

	s.jobs = append(s.jobs, tx.jobs...)
	hook := s.onEnqueue
	result := stored.Clone()
	s.mu.Unlock()

	if hook != nil {
		for _, job := range tx.jobs {
			hook(ctx, job)
		}
	}
	return result, nil
}

func (s *MemoryStore) InsertSyncLog(_ context.Context, log *domain.SyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log.CreatedAt.IsZero() {
		log.CreatedAt = s.now().UTC()
	}
	s.logs = append(s.logs, *log)
	return nil
}

func (s *MemoryStore) ListSyncLogs(_ context.Context, requestID string) ([]domain.SyncLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SyncLog
	for _, l := range s.logs {
		if requestID == "" || l.RequestID == requestID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *MemoryStore) CompactSyncLogs(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.logs {
		l := &s.logs[i]
		if l.CreatedAt.Before(before) && (l.RequestXML != "" || l.ResponseXML != "") {
			l.RequestXML, l.ResponseXML = "", ""
			n++
		}
	}
	return n, nil
}

func pushKey(ref domain.DocumentRef) string { return ref.Doctype + "\x00" + ref.Name }

func (s *MemoryStore) UpsertPush(_ context.Context, push domain.TransactionPush) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if push.UpdatedAt.IsZero() {
		push.UpdatedAt = s.now().UTC()
	}
	s.pushes[pushKey(domain.DocumentRef{Doctype: push.Doctype, Name: push.Document})] = push
	return nil
}

func (s *MemoryStore) GetPush(_ context.Context, ref domain.DocumentRef) (*domain.TransactionPush, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pushes[pushKey(ref)]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

var _ Store = (*MemoryStore)(nil)
