package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/apflow/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	state      TEXT NOT NULL DEFAULT 'received',
	invoice    TEXT NOT NULL,
	outcomes   TEXT,
	confidence TEXT,
	decision   TEXT,
	report     TEXT,
	error      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.PipelineRun) error {
	invoiceJSON, err := json.Marshal(run.Invoice)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal invoice")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, state, invoice, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, string(run.State), string(invoiceJSON), run.CreatedAt, run.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert run %s", run.ID)
}

func (s *SQLiteStore) UpdateRunState(ctx context.Context, runID string, state model.RunState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, updated_at = ? WHERE id = ?`,
		string(state), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run state %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run *model.PipelineRun) error {
	outcomes, confidence, decision, report, err := marshalRunParts(run)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, outcomes = ?, confidence = ?, decision = ?, report = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(run.State), outcomes, confidence, decision, report, run.Error, time.Now().UTC(), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", run.ID)
	}
	return checkRowsAffected(res, run.ID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, state, invoice, outcomes, confidence, decision, report, error, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	run, err := scanRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Errorf("sqlite: run %s not found", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error) {
	query := `SELECT id, state, invoice, outcomes, confidence, decision, report, error, created_at, updated_at FROM runs`
	var args []any
	if filter.State != "" {
		query += ` WHERE state = ?`
		args = append(args, string(filter.State))
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, normalizeLimit(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func checkRowsAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: run %s not found", runID)
	}
	return nil
}

// marshalRunParts serializes the nullable JSON columns of a run.
func marshalRunParts(run *model.PipelineRun) (outcomes, confidence, decision, report sql.NullString, err error) {
	marshal := func(v any, present bool) (sql.NullString, error) {
		if !present {
			return sql.NullString{}, nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return sql.NullString{}, eris.Wrap(err, "store: marshal run part")
		}
		return sql.NullString{String: string(data), Valid: true}, nil
	}

	if outcomes, err = marshal(run.Outcomes, len(run.Outcomes) > 0); err != nil {
		return
	}
	if confidence, err = marshal(run.Confidence, run.Confidence != nil); err != nil {
		return
	}
	if decision, err = marshal(run.Decision, run.Decision != nil); err != nil {
		return
	}
	report, err = marshal(run.Report, run.Report != nil)
	return
}

// scanRun reads one run row; shared by both backends since the column layout
// is identical.
func scanRun(scan func(dest ...any) error) (*model.PipelineRun, error) {
	var (
		run                                    model.PipelineRun
		state, invoiceJSON                     string
		outcomes, confidence, decision, report sql.NullString
		errText                                sql.NullString
	)
	if err := scan(&run.ID, &state, &invoiceJSON, &outcomes, &confidence, &decision, &report, &errText, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}

	run.State = model.RunState(state)
	run.Error = errText.String

	if err := json.Unmarshal([]byte(invoiceJSON), &run.Invoice); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal invoice")
	}
	if outcomes.Valid {
		if err := json.Unmarshal([]byte(outcomes.String), &run.Outcomes); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal outcomes")
		}
	}
	if confidence.Valid {
		if err := json.Unmarshal([]byte(confidence.String), &run.Confidence); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal confidence")
		}
	}
	if decision.Valid {
		if err := json.Unmarshal([]byte(decision.String), &run.Decision); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal decision")
		}
	}
	if report.Valid {
		if err := json.Unmarshal([]byte(report.String), &run.Report); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal report")
		}
	}

	return &run, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}
