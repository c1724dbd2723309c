package challenge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	workflowKeyPrefix  = "reviewflow:workflows:challenge:"
	workflowByIDPrefix = "reviewflow:workflows:id:"
)

// CachedRepository is a read-through cache over a challenge Repository.
// Workflow configuration changes rarely, so cached entries are served for
// the TTL and cache failures fall back to the underlying source.
type CachedRepository struct {
	source Repository
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedRepository wraps source with a Redis read-through cache.
func NewCachedRepository(source Repository, client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *CachedRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedRepository{source: source, client: client, ttl: ttl, logger: logger}
}

// GetSubmission is not cached. Submissions are read once per orchestration.
func (r *CachedRepository) GetSubmission(ctx context.Context, id string) (*Submission, error) {
	return r.source.GetSubmission(ctx, id)
}

func (r *CachedRepository) GetWorkflow(ctx context.Context, id string) (*WorkflowDefinition, error) {
	key := workflowByIDPrefix + id

	var def WorkflowDefinition
	if ok := r.lookup(ctx, key, &def); ok {
		return &def, nil
	}

	fresh, err := r.source.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	r.store(ctx, key, fresh)
	return fresh, nil
}

func (r *CachedRepository) ListChallengeWorkflows(ctx context.Context, challengeID string) ([]WorkflowDefinition, error) {
	key := workflowKeyPrefix + challengeID

	var defs []WorkflowDefinition
	if ok := r.lookup(ctx, key, &defs); ok {
		return defs, nil
	}

	fresh, err := r.source.ListChallengeWorkflows(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if fresh == nil {
		fresh = []WorkflowDefinition{}
	}
	r.store(ctx, key, fresh)
	return fresh, nil
}

// ListQueueKeys is not cached; it runs once at consumer startup.
func (r *CachedRepository) ListQueueKeys(ctx context.Context) ([]string, error) {
	return r.source.ListQueueKeys(ctx)
}

// Invalidate drops the cached workflow list for a challenge.
func (r *CachedRepository) Invalidate(ctx context.Context, challengeID string) error {
	if err := r.client.Del(ctx, workflowKeyPrefix+challengeID).Err(); err != nil {
		return fmt.Errorf("invalidate challenge workflows: %w", err)
	}
	return nil
}

func (r *CachedRepository) lookup(ctx context.Context, key string, dest any) bool {
	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		r.logger.Warn("workflow cache read failed", "key", key, "error", err)
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		r.logger.Warn("workflow cache entry corrupt", "key", key, "error", err)
		return false
	}
	return true
}

func (r *CachedRepository) store(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		r.logger.Warn("workflow cache write failed", "key", key, "error", err)
	}
}
