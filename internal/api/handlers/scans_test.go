package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewflow/reviewflow/internal/api/types"
	"github.com/reviewflow/reviewflow/internal/challenge"
	"github.com/reviewflow/reviewflow/internal/orchestrator"
	"github.com/reviewflow/reviewflow/internal/queue"
	"github.com/reviewflow/reviewflow/internal/run"
)

func newTestHandler(t *testing.T) (*Handler, *run.MemoryRepository) {
	t.Helper()

	engine := queue.NewMemoryEngine()
	t.Cleanup(func() { engine.Close() })
	qs := queue.NewService(engine, queue.Config{
		Enabled:    true,
		RetryLimit: 1,
		ExpireIn:   time.Hour,
	})

	runs := run.NewMemoryRepository()
	challenges := challenge.NewMemoryRepository()
	challenges.AddSubmission(challenge.Submission{ID: "sub-1", ChallengeID: "ch-1"})
	challenges.AddWorkflow(challenge.WorkflowDefinition{
		ID:          "wf-1",
		ChallengeID: "ch-1",
		QueueKey:    "review-default",
		Repository:  "reviews-wf-1",
		FileName:    "review.yml",
	})

	orch := orchestrator.New(runs, challenges, qs, true)
	return NewHandler(orch, runs, nil, nil), runs
}

func postScan(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/scans", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ScanComplete(rec, req)
	return rec
}

func TestScanComplete_CleanScanQueuesRuns(t *testing.T) {
	h, runs := newTestHandler(t)

	rec := postScan(t, h, `{"submissionId":"sub-1","isInfected":false}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp types.ScanCompleteResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "sub-1", resp.SubmissionID)
	assert.False(t, resp.Skipped)
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, string(run.StatusQueued), resp.Runs[0].Status)

	stored, err := runs.GetByID(context.Background(), resp.Runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusQueued, stored.Status)
}

func TestScanComplete_InfectedScanSkipsDispatch(t *testing.T) {
	h, runs := newTestHandler(t)

	rec := postScan(t, h, `{"submissionId":"sub-1","isInfected":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp types.ScanCompleteResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Skipped)
	assert.Empty(t, resp.Runs)

	stored, err := runs.List(context.Background(), run.Filter{SubmissionID: "sub-1"})
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestScanComplete_UnknownSubmission(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := postScan(t, h, `{"submissionId":"missing","isInfected":false}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScanComplete_ValidationErrors(t *testing.T) {
	h, _ := newTestHandler(t)

	// isInfected is a required tri-state pointer; omitting it must fail
	// rather than defaulting to clean.
	rec := postScan(t, h, `{"submissionId":"sub-1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp types.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Contains(t, resp.Details, "IsInfected")

	rec = postScan(t, h, `{"isInfected":false}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postScan(t, h, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
