package challenge

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLRepository reads submissions and workflow definitions from PostgreSQL.
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository creates a SQL-based challenge repository.
func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) GetSubmission(ctx context.Context, id string) (*Submission, error) {
	query := `SELECT id, challenge_id, member_id FROM submissions WHERE id = $1`

	s := &Submission{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&s.ID, &s.ChallengeID, &s.MemberID)
	if err == sql.ErrNoRows {
		return nil, ErrSubmissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query submission: %w", err)
	}
	return s, nil
}

func (r *SQLRepository) GetWorkflow(ctx context.Context, id string) (*WorkflowDefinition, error) {
	query := `
		SELECT id, challenge_id, queue_key, repository, ref, file_name
		FROM ai_workflows WHERE id = $1`

	def := &WorkflowDefinition{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&def.ID, &def.ChallengeID, &def.QueueKey, &def.Repository, &def.Ref, &def.FileName,
	)
	if err == sql.ErrNoRows {
		return nil, ErrWorkflowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query workflow: %w", err)
	}
	return def, nil
}

func (r *SQLRepository) ListChallengeWorkflows(ctx context.Context, challengeID string) ([]WorkflowDefinition, error) {
	query := `
		SELECT id, challenge_id, queue_key, repository, ref, file_name
		FROM ai_workflows WHERE challenge_id = $1 ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, challengeID)
	if err != nil {
		return nil, fmt.Errorf("query challenge workflows: %w", err)
	}
	defer rows.Close()

	var defs []WorkflowDefinition
	for rows.Next() {
		var def WorkflowDefinition
		if err := rows.Scan(&def.ID, &def.ChallengeID, &def.QueueKey, &def.Repository, &def.Ref, &def.FileName); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return defs, nil
}

func (r *SQLRepository) ListQueueKeys(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT queue_key FROM ai_workflows ORDER BY queue_key`)
	if err != nil {
		return nil, fmt.Errorf("query queue keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan queue key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return keys, nil
}

// CreateTables creates the read-model tables if they do not exist. Intended
// for migrations and local development.
func (r *SQLRepository) CreateTables(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS submissions (
			id TEXT PRIMARY KEY,
			challenge_id TEXT NOT NULL,
			member_id TEXT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS ai_workflows (
			id TEXT PRIMARY KEY,
			challenge_id TEXT NOT NULL,
			queue_key TEXT NOT NULL,
			repository TEXT NOT NULL,
			ref TEXT NOT NULL DEFAULT 'main',
			file_name TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_ai_workflows_challenge ON ai_workflows(challenge_id);
	`

	_, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("create challenge tables: %w", err)
	}
	return nil
}
