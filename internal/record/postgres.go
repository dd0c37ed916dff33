package record

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/medflow-ops/claimbridge/internal/shared/errors"
	"github.com/medflow-ops/claimbridge/internal/shared/types"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed record store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const visitColumns = `id, patient_name, patient_id, patient_number, visit_date,
	diagnosis, treatment, line_items, consultation_fee, incapacity_days, payer_code,
	extraction_status, attempt_count, last_attempt_at, last_error,
	field_sources, source_missing,
	submission_status, submitted_at, submission_result,
	created_at, updated_at`

// ErrUnscopedQuery is returned when a backlog query carries neither a date
// range nor the explicit all-pending opt-in. Refusing here prevents an
// accidental full-table run.
var ErrUnscopedQuery = fmt.Errorf("unscoped backlog query refused; pass a date range or opt in to all pending")

// GetPending returns the backlog items for one run, in stable order.
func (s *PostgresStore) GetPending(ctx context.Context, backlog Backlog, f PendingFilter) ([]WorkItem, error) {
	if f.Range.IsZero() && !f.AllPending {
		return nil, ErrUnscopedQuery
	}

	var conditions []string
	var args []interface{}
	argNum := 1

	switch backlog {
	case BacklogExtraction:
		if f.IncludeFailed {
			conditions = append(conditions,
				fmt.Sprintf("(extraction_status = 'pending' OR (extraction_status = 'failed' AND attempt_count < $%d))", argNum))
			args = append(args, f.RetryCeiling)
			argNum++
		} else {
			conditions = append(conditions, "extraction_status = 'pending'")
		}
	case BacklogDetails:
		conditions = append(conditions, "extraction_status = 'completed'", "patient_number = ''")
	case BacklogSubmission:
		conditions = append(conditions, "extraction_status = 'completed'", "submission_status = ''", "payer_code <> ''")
	default:
		return nil, fmt.Errorf("unknown backlog %q", backlog)
	}

	if !f.Range.IsZero() {
		conditions = append(conditions, fmt.Sprintf("visit_date >= $%d", argNum))
		args = append(args, f.Range.From)
		argNum++
		conditions = append(conditions, fmt.Sprintf("visit_date <= $%d", argNum))
		args = append(args, f.Range.To)
		argNum++
	}

	query := fmt.Sprintf(`SELECT %s FROM claims.visits WHERE %s ORDER BY visit_date, created_at`,
		visitColumns, strings.Join(conditions, " AND "))
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query pending visits")
	}
	defer rows.Close()

	var items []WorkItem
	for rows.Next() {
		item, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// ListByRange returns every visit in the date range that carries a payer
// code, submitted or not. Reconciliation re-derives "what should have been
// submitted" from this listing.
func (s *PostgresStore) ListByRange(ctx context.Context, rng types.DateRange) ([]WorkItem, error) {
	query := fmt.Sprintf(`SELECT %s FROM claims.visits
		WHERE visit_date >= $1 AND visit_date <= $2 AND payer_code <> ''
		ORDER BY visit_date, created_at`, visitColumns)

	rows, err := s.pool.Query(ctx, query, rng.From, rng.To)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list visits by range")
	}
	defer rows.Close()

	var items []WorkItem
	for rows.Next() {
		item, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// GetByID finds a work item by ID
func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*WorkItem, error) {
	query := fmt.Sprintf(`SELECT %s FROM claims.visits WHERE id = $1`, visitColumns)
	row := s.pool.QueryRow(ctx, query, id)
	item, err := scanVisit(row)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("visit", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find visit")
	}
	return item, nil
}

// Update applies a partial update to a single work item.
func (s *PostgresStore) Update(ctx context.Context, id uuid.UUID, u WorkItemUpdate) error {
	sets := []string{"updated_at = NOW()"}
	var args []interface{}
	argNum := 1

	add := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argNum))
		args = append(args, value)
		argNum++
	}

	if u.PatientName != nil {
		add("patient_name", *u.PatientName)
	}
	if u.PatientID != nil {
		add("patient_id", *u.PatientID)
	}
	if u.PatientNumber != nil {
		add("patient_number", *u.PatientNumber)
	}
	if u.Diagnosis != nil {
		add("diagnosis", *u.Diagnosis)
	}
	if u.Treatment != nil {
		add("treatment", *u.Treatment)
	}
	if u.LineItems != nil {
		b, err := json.Marshal(u.LineItems)
		if err != nil {
			return errors.Wrap(err, "failed to marshal line items")
		}
		add("line_items", b)
	}
	if u.ConsultationFee != nil {
		add("consultation_fee", *u.ConsultationFee)
	}
	if u.IncapacityDays != nil {
		add("incapacity_days", *u.IncapacityDays)
	}
	if u.ExtractionStatus != nil {
		add("extraction_status", string(*u.ExtractionStatus))
	}
	if u.AttemptCount != nil {
		add("attempt_count", *u.AttemptCount)
	}
	if u.LastAttemptAt != nil {
		add("last_attempt_at", *u.LastAttemptAt)
	}
	if u.LastError != nil {
		add("last_error", *u.LastError)
	}
	if u.FieldSources != nil {
		b, err := json.Marshal(u.FieldSources)
		if err != nil {
			return errors.Wrap(err, "failed to marshal field sources")
		}
		add("field_sources", b)
	}
	if u.SourceMissing != nil {
		b, err := json.Marshal(u.SourceMissing)
		if err != nil {
			return errors.Wrap(err, "failed to marshal source-missing annotations")
		}
		add("source_missing", b)
	}
	if u.SubmissionStatus != nil {
		add("submission_status", string(*u.SubmissionStatus))
	}
	if u.SubmittedAt != nil {
		add("submitted_at", *u.SubmittedAt)
	}
	if u.SubmissionResult != nil {
		b, err := json.Marshal(u.SubmissionResult)
		if err != nil {
			return errors.Wrap(err, "failed to marshal submission result")
		}
		add("submission_result", b)
	}

	if len(sets) == 1 {
		return nil
	}

	query := fmt.Sprintf(`UPDATE claims.visits SET %s WHERE id = $%d`,
		strings.Join(sets, ", "), argNum)
	args = append(args, id)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "failed to update visit")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("visit", id.String())
	}
	return nil
}

// CreateRun inserts a new run record with status running.
func (s *PostgresStore) CreateRun(ctx context.Context, kind RunKind, metadata map[string]any) (*RunRecord, error) {
	run := &RunRecord{
		ID:        uuid.New(),
		Kind:      kind,
		Status:    RunRunning,
		StartedAt: time.Now(),
		Metadata:  metadata,
	}

	metaJSON, err := json.Marshal(run.Metadata)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal run metadata")
	}
	if metadata == nil {
		metaJSON = []byte("{}")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO claims.runs (id, kind, status, started_at, metadata)
		VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.Kind, run.Status, run.StartedAt, metaJSON,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create run")
	}
	return run, nil
}

// UpdateRun applies a partial update to a run record.
func (s *PostgresStore) UpdateRun(ctx context.Context, id uuid.UUID, u RunUpdate) error {
	var sets []string
	var args []interface{}
	argNum := 1

	add := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argNum))
		args = append(args, value)
		argNum++
	}

	if u.Status != nil {
		add("status", string(*u.Status))
	}
	if u.FinishedAt != nil {
		add("finished_at", *u.FinishedAt)
	}
	if u.Total != nil {
		add("total", *u.Total)
	}
	if u.Succeeded != nil {
		add("succeeded", *u.Succeeded)
	}
	if u.Failed != nil {
		add("failed", *u.Failed)
	}
	if u.ErrorMessage != nil {
		add("error_message", *u.ErrorMessage)
	}

	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf(`UPDATE claims.runs SET %s WHERE id = $%d`,
		strings.Join(sets, ", "), argNum)
	args = append(args, id)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "failed to update run")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("run", id.String())
	}
	return nil
}

// GetRun finds a run record by ID.
func (s *PostgresStore) GetRun(ctx context.Context, id uuid.UUID) (*RunRecord, error) {
	run := &RunRecord{}
	var metaJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, kind, status, started_at, finished_at,
			total, succeeded, failed, error_message, metadata
		FROM claims.runs WHERE id = $1`, id,
	).Scan(
		&run.ID, &run.Kind, &run.Status, &run.StartedAt, &run.FinishedAt,
		&run.Total, &run.Succeeded, &run.Failed, &run.ErrorMessage, &metaJSON,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("run", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find run")
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &run.Metadata); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal run metadata")
		}
	}
	return run, nil
}

// scanVisit reads one visit row from either a Row or Rows.
func scanVisit(row pgx.Row) (*WorkItem, error) {
	item := &WorkItem{}
	var lineItemsJSON, fieldSourcesJSON, sourceMissingJSON, submissionResultJSON []byte

	err := row.Scan(
		&item.ID, &item.PatientName, &item.PatientID, &item.PatientNumber, &item.VisitDate,
		&item.Diagnosis, &item.Treatment, &lineItemsJSON, &item.ConsultationFee, &item.IncapacityDays, &item.PayerCode,
		&item.ExtractionStatus, &item.AttemptCount, &item.LastAttemptAt, &item.LastError,
		&fieldSourcesJSON, &sourceMissingJSON,
		&item.SubmissionStatus, &item.SubmittedAt, &submissionResultJSON,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(lineItemsJSON) > 0 {
		if err := json.Unmarshal(lineItemsJSON, &item.LineItems); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal line items")
		}
	}
	if len(fieldSourcesJSON) > 0 {
		if err := json.Unmarshal(fieldSourcesJSON, &item.FieldSources); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal field sources")
		}
	}
	if len(sourceMissingJSON) > 0 {
		if err := json.Unmarshal(sourceMissingJSON, &item.SourceMissing); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal source-missing annotations")
		}
	}
	if len(submissionResultJSON) > 0 {
		if err := json.Unmarshal(submissionResultJSON, &item.SubmissionResult); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal submission result")
		}
	}
	return item, nil
}
