// Package postgres stores study records in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"alphabias/domain/core"
	"alphabias/domain/run"
	"alphabias/internal/errors"
	"alphabias/ports"
)

// StudyRepositoryImpl implements StudyRepository for PostgreSQL. The record
// document lives in a JSONB column; trials are kept as rows in study_trials.
type StudyRepositoryImpl struct {
	db *sqlx.DB
}

var _ ports.StudyRepository = (*StudyRepositoryImpl)(nil)

// NewStudyRepository creates a new PostgreSQL study repository
func NewStudyRepository(db *sqlx.DB) *StudyRepositoryImpl {
	return &StudyRepositoryImpl{db: db}
}

type studyRow struct {
	ID              string    `db:"id"`
	Channel         string    `db:"channel"`
	Status          string    `db:"status"`
	Trials          int       `db:"trials"`
	Seed            int64     `db:"seed"`
	ConvergenceRate float64   `db:"convergence_rate"`
	BiasMean        float64   `db:"bias_mean"`
	PullMean        float64   `db:"pull_mean"`
	PullWidth       float64   `db:"pull_width"`
	Fingerprint     string    `db:"fingerprint"`
	Record          string    `db:"record"`
	CreatedAt       time.Time `db:"created_at"`
}

type summaryRow struct {
	ID              string    `db:"id"`
	Channel         string    `db:"channel"`
	Status          string    `db:"status"`
	Trials          int       `db:"trials"`
	ConvergenceRate float64   `db:"convergence_rate"`
	BiasMean        float64   `db:"bias_mean"`
	PullMean        float64   `db:"pull_mean"`
	PullWidth       float64   `db:"pull_width"`
	CreatedAt       time.Time `db:"created_at"`
}

type trialRow struct {
	StudyID string `db:"study_id"`
	run.TrialRow
}

// Save upserts the study and replaces its trial rows in one transaction.
func (r *StudyRepositoryImpl) Save(ctx context.Context, rec *run.Record) error {
	if rec == nil || core.ID(rec.ID()).IsEmpty() {
		return errors.InvalidInput("study id cannot be empty")
	}

	doc := *rec
	doc.Trials = nil
	payload, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal study record")
	}

	sum := ports.Summarize(rec)
	row := studyRow{
		ID:              rec.ID().String(),
		Channel:         sum.Channel,
		Status:          string(sum.Status),
		Trials:          sum.Trials,
		Seed:            int64(rec.Manifest.Seed),
		ConvergenceRate: sum.ConvergenceRate,
		BiasMean:        sum.BiasMean,
		PullMean:        sum.PullMean,
		PullWidth:       sum.PullWidth,
		Fingerprint:     rec.Manifest.Fingerprint.String(),
		Record:          string(payload),
		CreatedAt:       rec.Manifest.CreatedAt.Time(),
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.DatabaseError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO studies (id, channel, status, trials, seed, convergence_rate, bias_mean, pull_mean, pull_width, fingerprint, record, created_at, updated_at)
		VALUES (:id, :channel, :status, :trials, :seed, :convergence_rate, :bias_mean, :pull_mean, :pull_width, :fingerprint, :record, :created_at, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			convergence_rate = EXCLUDED.convergence_rate,
			bias_mean = EXCLUDED.bias_mean,
			pull_mean = EXCLUDED.pull_mean,
			pull_width = EXCLUDED.pull_width,
			fingerprint = EXCLUDED.fingerprint,
			record = EXCLUDED.record,
			updated_at = NOW()
	`, row)
	if err != nil {
		return errors.DatabaseError("failed to upsert study", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM study_trials WHERE study_id = $1`, row.ID); err != nil {
		return errors.DatabaseError("failed to clear trials", err)
	}
	if len(rec.Trials) > 0 {
		rows := make([]trialRow, len(rec.Trials))
		for i, t := range rec.Trials {
			rows[i] = trialRow{StudyID: row.ID, TrialRow: t}
		}
		for start := 0; start < len(rows); start += trialBatch {
			end := min(start+trialBatch, len(rows))
			if _, err := tx.NamedExecContext(ctx, insertTrialsSQL, rows[start:end]); err != nil {
				return errors.DatabaseError("failed to insert trials", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.DatabaseError("failed to commit study", err)
	}
	return nil
}

// trialBatch keeps a batch insert below the 65535 bind parameter limit.
const trialBatch = 4000

const insertTrialsSQL = `
	INSERT INTO study_trials (study_id, trial_index, generated, yield, stderr, truth_count, bias, bias_defined, pull, pull_defined, fit_status, converged, aborted, non_finite)
	VALUES (:study_id, :trial_index, :generated, :yield, :stderr, :truth_count, :bias, :bias_defined, :pull, :pull_defined, :fit_status, :converged, :aborted, :non_finite)
`

// Get retrieves a study with its trials
func (r *StudyRepositoryImpl) Get(ctx context.Context, id core.StudyID) (*run.Record, error) {
	var payload []byte
	err := r.db.GetContext(ctx, &payload, `SELECT record FROM studies WHERE id = $1`, id.String())
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrStudyNotFound, id)
	}
	if err != nil {
		return nil, errors.DatabaseError("failed to load study", err)
	}

	var rec run.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, errors.Wrapf(err, "failed to parse study %s", id)
	}

	var trials []run.TrialRow
	err = r.db.SelectContext(ctx, &trials, `
		SELECT trial_index, generated, yield, stderr, truth_count, bias, bias_defined, pull, pull_defined, fit_status, converged, aborted, non_finite
		FROM study_trials
		WHERE study_id = $1
		ORDER BY trial_index
	`, id.String())
	if err != nil {
		return nil, errors.DatabaseError("failed to load trials", err)
	}
	rec.Trials = trials
	return &rec, nil
}

// List returns study summaries, newest first.
func (r *StudyRepositoryImpl) List(ctx context.Context, filters ports.StudyFilters) ([]ports.StudySummary, error) {
	query, args := listQuery(filters)
	var rows []summaryRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.DatabaseError("failed to list studies", err)
	}
	out := make([]ports.StudySummary, len(rows))
	for i, row := range rows {
		out[i] = ports.StudySummary{
			ID:              core.StudyID(row.ID),
			Channel:         row.Channel,
			Status:          run.Status(row.Status),
			Trials:          row.Trials,
			ConvergenceRate: row.ConvergenceRate,
			BiasMean:        row.BiasMean,
			PullMean:        row.PullMean,
			PullWidth:       row.PullWidth,
			CreatedAt:       core.NewTimestamp(row.CreatedAt),
		}
	}
	return out, nil
}

func listQuery(filters ports.StudyFilters) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if filters.Channel != "" {
		args = append(args, filters.Channel)
		where = append(where, fmt.Sprintf("channel = $%d", len(args)))
	}
	if filters.Status != "" {
		args = append(args, string(filters.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	var b strings.Builder
	b.WriteString(`SELECT id, channel, status, trials, convergence_rate, bias_mean, pull_mean, pull_width, created_at FROM studies`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC")
	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if filters.Offset > 0 {
		args = append(args, filters.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}
