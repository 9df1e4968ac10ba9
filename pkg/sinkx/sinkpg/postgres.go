package sinkpg

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Abraxas-365/rollout/pkg/ai/llm"
	"github.com/Abraxas-365/rollout/pkg/ai/llm/agentx"
	"github.com/Abraxas-365/rollout/pkg/errx"
	"github.com/Abraxas-365/rollout/pkg/sinkx"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
)

var pgErrors = errx.NewRegistry("SINKX_PG")

var (
	ErrSchema  = pgErrors.Register("SCHEMA", errx.TypeExternal, "Failed to prepare rollout table")
	ErrUpsert  = pgErrors.Register("UPSERT", errx.TypeExternal, "Failed to upsert rollout record")
	ErrLoad    = pgErrors.Register("LOAD", errx.TypeExternal, "Failed to load rollout records")
	ErrMarshal = pgErrors.Register("MARSHAL", errx.TypeInternal, "Failed to encode record column")
	ErrDecode  = pgErrors.Register("DECODE", errx.TypeInternal, "Failed to decode record column")
)

// Schema creates the rollout table. Slots are unique per run.
const Schema = `
CREATE TABLE IF NOT EXISTS rollout_records (
	run           TEXT        NOT NULL,
	question      TEXT        NOT NULL,
	rollout_index INTEGER     NOT NULL,
	task_id       TEXT        NOT NULL,
	answer        TEXT        NOT NULL DEFAULT '',
	prediction    TEXT        NOT NULL DEFAULT '',
	termination   TEXT        NOT NULL,
	lineage_id    TEXT        NOT NULL DEFAULT '',
	parent_id     TEXT        NOT NULL DEFAULT '',
	kind          TEXT        NOT NULL,
	branch_round  INTEGER     NOT NULL DEFAULT 0,
	compactions   INTEGER     NOT NULL DEFAULT 0,
	finalized     BOOLEAN     NOT NULL DEFAULT FALSE,
	error         TEXT        NOT NULL DEFAULT '',
	duration_ms   BIGINT      NOT NULL DEFAULT 0,
	messages      JSONB       NOT NULL,
	rounds        JSONB       NOT NULL,
	token_usage   JSONB,
	written_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run, question, rollout_index)
)`

// PostgresStore upserts records into rollout_records.
type PostgresStore struct {
	db  *sqlx.DB
	run string
}

// NewPostgresStore creates a store under the run namespace.
func NewPostgresStore(db *sqlx.DB, run string) *PostgresStore {
	if run == "" {
		run = "default"
	}
	return &PostgresStore{db: db, run: run}
}

// EnsureSchema creates the table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return pgErrors.NewWithCause(ErrSchema, err)
	}
	return nil
}

type recordRow struct {
	Run          string             `db:"run"`
	Question     string             `db:"question"`
	RolloutIndex int                `db:"rollout_index"`
	TaskID       string             `db:"task_id"`
	Answer       string             `db:"answer"`
	Prediction   string             `db:"prediction"`
	Termination  string             `db:"termination"`
	LineageID    string             `db:"lineage_id"`
	ParentID     string             `db:"parent_id"`
	Kind         string             `db:"kind"`
	BranchRound  int                `db:"branch_round"`
	Compactions  int                `db:"compactions"`
	Finalized    bool               `db:"finalized"`
	Error        string             `db:"error"`
	DurationMS   int64              `db:"duration_ms"`
	Messages     types.JSONText     `db:"messages"`
	Rounds       types.JSONText     `db:"rounds"`
	TokenUsage   types.NullJSONText `db:"token_usage"`
	WrittenAt    time.Time          `db:"written_at"`
}

func toRow(run string, rec sinkx.Record) (recordRow, error) {
	messages, err := json.Marshal(rec.Messages)
	if err != nil {
		return recordRow{}, pgErrors.NewWithCause(ErrMarshal, err).WithDetail("column", "messages")
	}
	rounds := rec.Rounds
	if rounds == nil {
		rounds = []agentx.Round{}
	}
	roundsJSON, err := json.Marshal(rounds)
	if err != nil {
		return recordRow{}, pgErrors.NewWithCause(ErrMarshal, err).WithDetail("column", "rounds")
	}
	row := recordRow{
		Run:          run,
		Question:     rec.Question,
		RolloutIndex: rec.RolloutIndex,
		TaskID:       rec.TaskID,
		Answer:       rec.Answer,
		Prediction:   rec.Prediction,
		Termination:  string(rec.Termination),
		LineageID:    rec.LineageID,
		ParentID:     rec.ParentID,
		Kind:         string(rec.Kind),
		BranchRound:  rec.BranchRound,
		Compactions:  rec.Compactions,
		Finalized:    rec.Finalized,
		Error:        rec.Error,
		DurationMS:   rec.DurationMS,
		Messages:     types.JSONText(messages),
		Rounds:       types.JSONText(roundsJSON),
		WrittenAt:    rec.WrittenAt,
	}
	if rec.TokenUsage != nil {
		usage, err := json.Marshal(rec.TokenUsage)
		if err != nil {
			return recordRow{}, pgErrors.NewWithCause(ErrMarshal, err).WithDetail("column", "token_usage")
		}
		row.TokenUsage = types.NullJSONText{JSONText: types.JSONText(usage), Valid: true}
	}
	if row.WrittenAt.IsZero() {
		row.WrittenAt = time.Now().UTC()
	}
	return row, nil
}

func (r recordRow) toRecord() (sinkx.Record, error) {
	rec := sinkx.Record{
		TaskID:       r.TaskID,
		Question:     r.Question,
		Answer:       r.Answer,
		Prediction:   r.Prediction,
		Termination:  agentx.Termination(r.Termination),
		RolloutIndex: r.RolloutIndex,
		LineageID:    r.LineageID,
		ParentID:     r.ParentID,
		Kind:         agentx.TaskKind(r.Kind),
		BranchRound:  r.BranchRound,
		Compactions:  r.Compactions,
		Finalized:    r.Finalized,
		Error:        r.Error,
		DurationMS:   r.DurationMS,
		WrittenAt:    r.WrittenAt,
	}
	if err := r.Messages.Unmarshal(&rec.Messages); err != nil {
		return rec, pgErrors.NewWithCause(ErrDecode, err).WithDetail("column", "messages")
	}
	if err := r.Rounds.Unmarshal(&rec.Rounds); err != nil {
		return rec, pgErrors.NewWithCause(ErrDecode, err).WithDetail("column", "rounds")
	}
	if r.TokenUsage.Valid {
		var usage llm.Usage
		if err := r.TokenUsage.Unmarshal(&usage); err != nil {
			return rec, pgErrors.NewWithCause(ErrDecode, err).WithDetail("column", "token_usage")
		}
		rec.TokenUsage = &usage
	}
	return rec, nil
}

const upsertQuery = `
	INSERT INTO rollout_records (
		run, question, rollout_index, task_id, answer, prediction, termination,
		lineage_id, parent_id, kind, branch_round, compactions, finalized,
		error, duration_ms, messages, rounds, token_usage, written_at
	) VALUES (
		:run, :question, :rollout_index, :task_id, :answer, :prediction, :termination,
		:lineage_id, :parent_id, :kind, :branch_round, :compactions, :finalized,
		:error, :duration_ms, :messages, :rounds, :token_usage, :written_at
	)
	ON CONFLICT (run, question, rollout_index) DO UPDATE SET
		task_id = EXCLUDED.task_id,
		answer = EXCLUDED.answer,
		prediction = EXCLUDED.prediction,
		termination = EXCLUDED.termination,
		lineage_id = EXCLUDED.lineage_id,
		parent_id = EXCLUDED.parent_id,
		kind = EXCLUDED.kind,
		branch_round = EXCLUDED.branch_round,
		compactions = EXCLUDED.compactions,
		finalized = EXCLUDED.finalized,
		error = EXCLUDED.error,
		duration_ms = EXCLUDED.duration_ms,
		messages = EXCLUDED.messages,
		rounds = EXCLUDED.rounds,
		token_usage = EXCLUDED.token_usage,
		written_at = EXCLUDED.written_at`

func (s *PostgresStore) Append(ctx context.Context, rec sinkx.Record) error {
	row, err := toRow(s.run, rec)
	if err != nil {
		return err
	}
	if _, err := s.db.NamedExecContext(ctx, upsertQuery, row); err != nil {
		e := pgErrors.NewWithCause(ErrUpsert, err).
			WithDetail("run", s.run).
			WithDetail("rollout_index", rec.RolloutIndex)
		if pqErr, ok := err.(*pq.Error); ok {
			e.WithDetail("pg_code", string(pqErr.Code))
		}
		return e
	}
	return nil
}

// Load returns the run's records in write order. A missing table holds no
// records.
func (s *PostgresStore) Load(ctx context.Context) ([]sinkx.Record, error) {
	var rows []recordRow
	query := `SELECT * FROM rollout_records WHERE run = $1 ORDER BY written_at, rollout_index`
	if err := s.db.SelectContext(ctx, &rows, query, s.run); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "42P01" { // undefined_table
			return nil, nil
		}
		return nil, pgErrors.NewWithCause(ErrLoad, err).WithDetail("run", s.run)
	}

	records := make([]sinkx.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Close leaves the pool open; it is owned by the caller.
func (s *PostgresStore) Close() error { return nil }
