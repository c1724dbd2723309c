package github

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRunContext(t *testing.T) {
	logs := strings.Join([]string{
		"2026-08-27T10:15:02.1234567Z ##[group]Run echo context",
		"2026-08-27T10:15:02.2234567Z AI_WORKFLOW_RUN_ID=9f2c1b34-77aa-4f70-8a12-3c55de01ab9d",
		"2026-08-27T10:15:02.3234567Z AI_WORKFLOW_JOBS_COUNT=3",
		"2026-08-27T10:15:02.4234567Z ##[endgroup]",
	}, "\n")

	rc, err := ParseRunContext(strings.NewReader(logs))
	require.NoError(t, err)
	assert.Equal(t, "9f2c1b34-77aa-4f70-8a12-3c55de01ab9d", rc.RunID)
	assert.Equal(t, 3, rc.JobsCount)
}

func TestParseRunContext_MarkersMissing(t *testing.T) {
	logs := "2026-08-27T10:15:02.1234567Z nothing useful here\n"

	_, err := ParseRunContext(strings.NewReader(logs))
	assert.ErrorIs(t, err, ErrNoRunContext)
}

func TestParseRunContext_InvalidJobsCount(t *testing.T) {
	logs := strings.Join([]string{
		"AI_WORKFLOW_RUN_ID=abc",
		"AI_WORKFLOW_JOBS_COUNT=many",
	}, "\n")

	_, err := ParseRunContext(strings.NewReader(logs))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid jobs count")
}

func TestParseRunContext_TrailingFields(t *testing.T) {
	logs := "2026-08-27T10:15:02Z AI_WORKFLOW_RUN_ID=run-42 extra\nAI_WORKFLOW_JOBS_COUNT=2\n"

	rc, err := ParseRunContext(strings.NewReader(logs))
	require.NoError(t, err)
	assert.Equal(t, "run-42", rc.RunID)
	assert.Equal(t, 2, rc.JobsCount)
}
