package github

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Markers the bootstrap job prints into its log output. They carry the
// internal run id and the total number of jobs in the workflow, which is
// the only way to tie a GitHub run back to a local row after a restart.
const (
	markerRunID     = "AI_WORKFLOW_RUN_ID="
	markerJobsCount = "AI_WORKFLOW_JOBS_COUNT="
)

// ErrNoRunContext indicates the log stream carried no run context markers.
var ErrNoRunContext = errors.New("run context markers not found in job logs")

// RunContext is the correlation data recovered from bootstrap job logs.
type RunContext struct {
	RunID     string
	JobsCount int
}

// ParseRunContext scans a job log stream for the run context markers.
// GitHub prefixes every line with an ISO timestamp, so markers are matched
// anywhere in the line.
func ParseRunContext(r io.Reader) (*RunContext, error) {
	rc := &RunContext{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()

		if idx := strings.Index(line, markerRunID); idx >= 0 {
			rc.RunID = fieldAfter(line, idx+len(markerRunID))
		}
		if idx := strings.Index(line, markerJobsCount); idx >= 0 {
			raw := fieldAfter(line, idx+len(markerJobsCount))
			count, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid jobs count %q: %w", raw, err)
			}
			rc.JobsCount = count
		}

		if rc.RunID != "" && rc.JobsCount > 0 {
			return rc, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan job logs: %w", err)
	}
	return nil, ErrNoRunContext
}

// fieldAfter returns the whitespace-delimited token starting at offset.
func fieldAfter(line string, offset int) string {
	rest := line[offset:]
	if end := strings.IndexAny(rest, " \t\r"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}
