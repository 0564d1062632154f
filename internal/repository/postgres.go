package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
	apperrors "github.com/Data-Analyst4/tally-connect/internal/pkg/errors"
)

// JobInserter inserts River jobs inside a caller's transaction.
// *river.Client[pgx.Tx] satisfies it.
type JobInserter interface {
	InsertTx(ctx context.Context, tx pgx.Tx, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// PostgresStore is the pgx-backed Store.
type PostgresStore struct {
	pool     *pgxpool.Pool
	inserter JobInserter
}

// NewPostgresStore creates a PostgresStore. SetJobInserter must be called
// before any update enqueues jobs.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// SetJobInserter wires the River client once it exists. The client needs
// workers that depend on this store, so it cannot be passed to the
// constructor.
func (s *PostgresStore) SetJobInserter(inserter JobInserter) {
	s.inserter = inserter
}

const requestColumns = `id, company, master_type, master_name, status, priority, parent_group,
	source_snapshot, source_doctype, source_document, linked_doctype, linked_document, reason,
	creation_payload, sync_log_id, sync_error, sync_error_kind, attempts, notification_history,
	approver_notes, rejection_reason, modified_name, modified_parent, drift_acknowledged,
	requested_by, assigned_to, approved_by, rejected_by,
	created_at, updated_at, approved_at, rejected_at, completed_at, version`

const terminalStatuses = `('Completed', 'Rejected')`

// rowValues returns the column values of req in requestColumns order.
func rowValues(req *domain.MasterCreationRequest) ([]any, error) {
	var snapshot, payload []byte
	var err error
	if req.SourceSnapshot != nil {
		if snapshot, err = json.Marshal(req.SourceSnapshot); err != nil {
			return nil, fmt.Errorf("encode source snapshot: %w", err)
		}
	}
	if req.CreationPayload != nil {
		if payload, err = json.Marshal(req.CreationPayload); err != nil {
			return nil, fmt.Errorf("encode creation payload: %w", err)
		}
	}
	history, err := json.Marshal(req.NotificationHistory)
	if err != nil {
		return nil, fmt.Errorf("encode notification history: %w", err)
	}
	var linkedDoctype, linkedDocument string
	if req.LinkedTransaction != nil {
		linkedDoctype, linkedDocument = req.LinkedTransaction.Doctype, req.LinkedTransaction.Name
	}
	drift := req.DriftAcknowledged
	if drift == nil {
		drift = []string{}
	}
	return []any{
		req.ID, req.Company, string(req.MasterType), req.MasterName, string(req.Status), string(req.Priority), req.ParentGroup,
		snapshot, req.SourceDoctype, req.SourceDocument, linkedDoctype, linkedDocument, req.Reason,
		payload, req.SyncLogID, req.SyncError, string(req.SyncErrorKind), req.Attempts, history,
		req.ApproverNotes, req.RejectionReason, req.ModifiedName, req.ModifiedParent, drift,
		req.RequestedBy, req.AssignedTo, req.ApprovedBy, req.RejectedBy,
		req.CreatedAt, req.UpdatedAt, req.ApprovedAt, req.RejectedAt, req.CompletedAt, req.Version,
	}, nil
}

func scanRequest(row pgx.Row) (*domain.MasterCreationRequest, error) {
	var (
		req                           domain.MasterCreationRequest
		masterType, status, priority  string
		syncErrorKind                 string
		snapshot, payload, history    []byte
		linkedDoctype, linkedDocument string
	)
	err := row.Scan(
		&req.ID, &req.Company, &masterType, &req.MasterName, &status, &priority, &req.ParentGroup,
		&snapshot, &req.SourceDoctype, &req.SourceDocument, &linkedDoctype, &linkedDocument, &req.Reason,
		&payload, &req.SyncLogID, &req.SyncError, &syncErrorKind, &req.Attempts, &history,
		&req.ApproverNotes, &req.RejectionReason, &req.ModifiedName, &req.ModifiedParent, &req.DriftAcknowledged,
		&req.RequestedBy, &req.AssignedTo, &req.ApprovedBy, &req.RejectedBy,
		&req.CreatedAt, &req.UpdatedAt, &req.ApprovedAt, &req.RejectedAt, &req.CompletedAt, &req.Version,
	)
	if err != nil {
		return nil, err
	}
	req.MasterType = domain.MasterType(masterType)
	req.Status = domain.Status(status)
	req.Priority = domain.Priority(priority)
	req.SyncErrorKind = domain.SyncErrorKind(syncErrorKind)
	if len(snapshot) > 0 {
		req.SourceSnapshot = &domain.SourceSnapshot{}
		if err := json.Unmarshal(snapshot, req.SourceSnapshot); err != nil {
			return nil, fmt.Errorf("decode source snapshot of %s: %w", req.ID, err)
		}
	}
	if len(payload) > 0 {
		req.CreationPayload = &domain.CreationPayload{}
		if err := json.Unmarshal(payload, req.CreationPayload); err != nil {
			return nil, fmt.Errorf("decode creation payload of %s: %w", req.ID, err)
		}
	}
	if err := json.Unmarshal(history, &req.NotificationHistory); err != nil {
		return nil, err
	}
	if linkedDoctype != "" || linkedDocument != "" {
		req.LinkedTransaction = &domain.DocumentRef{Doctype: linkedDoctype, Name: linkedDocument}
	}
	if len(req.DriftAcknowledged) == 0 {
		req.DriftAcknowledged = nil
	}
	return &req, nil
}

func placeholders(n, from int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "$%d", from+i)
	}
	return sb.String()
}

func (s *PostgresStore) CreateOrGetActive(ctx context.Context, req *domain.MasterCreationRequest) (*domain.MasterCreationRequest, bool, error) {
	if req.Version == 0 {
		req.Version = 1
	}
	values, err := rowValues(req)
	if err != nil {
		return nil, false, err
	}
	values = append(values, req.Identity().Key())
	n := len(values)

	query := `INSERT INTO master_requests (` + requestColumns + `, identity_key)
		VALUES (` + placeholders(n, 1) + `)
		ON CONFLICT (identity_key) WHERE status NOT IN ` + terminalStatuses + ` DO NOTHING`

	// the active request may finish between the conflict and the lookup
	for attempt := 0; attempt < 3; attempt++ {
		tag, err := s.pool.Exec(ctx, query, values...)
		if err != nil {
			return nil, false, fmt.Errorf("insert master request %s: %w", req.ID, err)
		}
		if tag.RowsAffected() == 1 {
			return req.Clone(), true, nil
		}
		existing, err := s.FindActive(ctx, req.Identity())
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}
	return nil, false, errConcurrentModification(req.ID, req.Status)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.MasterCreationRequest, error) {
	req, err := scanRequest(s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM master_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrRequestNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get master request %s: %w", id, err)
	}
	return req, nil
}

func (s *PostgresStore) FindActive(ctx context.Context, identity domain.Identity) (*domain.MasterCreationRequest, error) {
	req, err := scanRequest(s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM master_requests
		 WHERE identity_key = $1 AND status NOT IN `+terminalStatuses, identity.Key()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active request for %s: %w", identity, err)
	}
	return req, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*domain.MasterCreationRequest, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.Company != "" {
		add("company = $%d", filter.Company)
	}
	if filter.MasterType != "" {
		add("master_type = $%d", string(filter.MasterType))
	}
	if filter.AssignedTo != "" {
		add("assigned_to = $%d", filter.AssignedTo)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, st := range filter.Status {
			statuses[i] = string(st)
		}
		add("status = ANY($%d)", statuses)
	}

	query := `SELECT ` + requestColumns + ` FROM master_requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY CASE priority WHEN 'Urgent' THEN 2 WHEN 'High' THEN 1 ELSE 0 END DESC, created_at, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list master requests: %w", err)
	}
	defer rows.Close()

	out := []*domain.MasterCreationRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan master request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

type pgTx struct {
	tx       pgx.Tx
	inserter JobInserter
}

func (t *pgTx) Enqueue(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) error {
	if t.inserter == nil {
		return fmt.Errorf("enqueue %s: job inserter is not configured", args.Kind())
	}
	if _, err := t.inserter.InsertTx(ctx, t.tx, args, opts); err != nil {
		return fmt.Errorf("enqueue %s: %w", args.Kind(), err)
	}
	return nil
}

// Update locks the row, lets fn compute the next state and writes it back
// guarded by the status and version fn saw. Jobs fn enqueues share the
// transaction.
func (s *PostgresStore) Update(ctx context.Context, id string, fn UpdateFunc) (*domain.MasterCreationRequest, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin update of %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanRequest(tx.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM master_requests WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrRequestNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("lock master request %s: %w", id, err)
	}

	next, err := fn(ctx, cur.Clone(), &pgTx{tx: tx, inserter: s.inserter})
	if err != nil {
		return nil, err
	}
	if next == nil {
		return cur, nil
	}
	if err := checkUpdate(cur, next); err != nil {
		return nil, err
	}

	next = next.Clone()
	next.Version = cur.Version + 1
	next.UpdatedAt = time.Now().UTC()

	var payload []byte
	if next.CreationPayload != nil {
		if payload, err = json.Marshal(next.CreationPayload); err != nil {
			return nil, fmt.Errorf("encode creation payload: %w", err)
		}
	}
	history, err := json.Marshal(next.NotificationHistory)
	if err != nil {
		return nil, fmt.Errorf("encode notification history: %w", err)
	}
	var linkedDoctype, linkedDocument string
	if next.LinkedTransaction != nil {
		linkedDoctype, linkedDocument = next.LinkedTransaction.Doctype, next.LinkedTransaction.Name
	}
	drift := next.DriftAcknowledged
	if drift == nil {
		drift = []string{}
	}

	// identity, snapshot and created_at never change
	tag, err := tx.Exec(ctx, `UPDATE master_requests SET
		status = $3, priority = $4, parent_group = $5,
		linked_doctype = $6, linked_document = $7, reason = $8,
		creation_payload = $9, sync_log_id = $10, sync_error = $11, sync_error_kind = $12,
		attempts = $13, notification_history = $14,
		approver_notes = $15, rejection_reason = $16, modified_name = $17, modified_parent = $18,
		drift_acknowledged = $19, assigned_to = $20, approved_by = $21, rejected_by = $22,
		updated_at = $23, approved_at = $24, rejected_at = $25, completed_at = $26, version = $27
		WHERE id = $1 AND status = $2 AND version = $28`,
		id, string(cur.Status), string(next.Status), string(next.Priority), next.ParentGroup,
		linkedDoctype, linkedDocument, next.Reason,
		payload, next.SyncLogID, next.SyncError, string(next.SyncErrorKind),
		next.Attempts, history,
		next.ApproverNotes, next.RejectionReason, next.ModifiedName, next.ModifiedParent,
		drift, next.AssignedTo, next.ApprovedBy, next.RejectedBy,
		next.UpdatedAt, next.ApprovedAt, next.RejectedAt, next.CompletedAt, next.Version,
		cur.Version)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, errConcurrentModification(id, cur.Status)
		}
		return nil, fmt.Errorf("update master request %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, errConcurrentModification(id, cur.Status)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update of %s: %w", id, err)
	}
	return next, nil
}

func (s *PostgresStore) InsertSyncLog(ctx context.Context, log *domain.SyncLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO sync_logs
		(id, request_id, operation, target, company, success, error_kind, error_message,
		 request_xml, response_xml, status_code, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		log.ID, log.RequestID, log.Operation, log.Target, log.Company, log.Success,
		string(log.ErrorKind), log.ErrorMessage, log.RequestXML, log.ResponseXML,
		log.StatusCode, log.Duration.Milliseconds(), log.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert sync log %s: %w", log.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListSyncLogs(ctx context.Context, requestID string) ([]domain.SyncLog, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, request_id, operation, target, company, success,
		error_kind, error_message, request_xml, response_xml, status_code, duration_ms, created_at
		FROM sync_logs WHERE ($1 = '' OR request_id = $1) ORDER BY created_at, id`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list sync logs: %w", err)
	}
	defer rows.Close()

	var out []domain.SyncLog
	for rows.Next() {
		var (
			l          domain.SyncLog
			kind       string
			durationMS int64
		)
		if err := rows.Scan(&l.ID, &l.RequestID, &l.Operation, &l.Target, &l.Company, &l.Success,
			&kind, &l.ErrorMessage, &l.RequestXML, &l.ResponseXML, &l.StatusCode, &durationMS, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sync log: %w", err)
		}
		l.ErrorKind = domain.SyncErrorKind(kind)
		l.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CompactSyncLogs(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE sync_logs SET request_xml = '', response_xml = ''
		WHERE created_at < $1 AND (request_xml <> '' OR response_xml <> '')`, before)
	if err != nil {
		return 0, fmt.Errorf("compact sync logs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) UpsertPush(ctx context.Context, push domain.TransactionPush) error {
	if push.UpdatedAt.IsZero() {
		push.UpdatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO transaction_pushes
		(doctype, document, company, status, attempts, last_error, sync_log_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (doctype, document) DO UPDATE SET
			company = EXCLUDED.company, status = EXCLUDED.status, attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error, sync_log_id = EXCLUDED.sync_log_id,
			updated_at = EXCLUDED.updated_at`,
		push.Doctype, push.Document, push.Company, push.Status, push.Attempts,
		push.LastError, push.SyncLogID, push.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert transaction push %s/%s: %w", push.Doctype, push.Document, err)
	}
	return nil
}

func (s *PostgresStore) GetPush(ctx context.Context, ref domain.DocumentRef) (*domain.TransactionPush, error) {
	var p domain.TransactionPush
	err := s.pool.QueryRow(ctx, `SELECT doctype, document, company, status, attempts, last_error,
		sync_log_id, updated_at FROM transaction_pushes WHERE doctype = $1 AND document = $2`,
		ref.Doctype, ref.Name).
		Scan(&p.Doctype, &p.Document, &p.Company, &p.Status, &p.Attempts, &p.LastError, &p.SyncLogID, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction push %s: %w", ref, err)
	}
	return &p, nil
}

var _ Store = (*PostgresStore)(nil)
