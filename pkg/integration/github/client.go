// Package github wraps the GitHub REST API surface used to run AI review
// workflows in challenge repositories.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gh "github.com/google/go-github/v62/github"
)

// Config holds GitHub API settings.
type Config struct {
	Token      string
	Owner      string
	DefaultRef string
	Timeout    time.Duration
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultRef: "main",
		Timeout:    30 * time.Second,
	}
}

// Client talks to the GitHub API for a single organization.
type Client struct {
	api        *gh.Client
	httpClient *http.Client
	owner      string
	defaultRef string
	logger     *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient overrides the HTTP client used for API calls and log
// downloads. Used in tests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
		c.api = gh.NewClient(httpClient)
	}
}

// NewClient creates a GitHub client from config.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("github token is required")
	}
	if cfg.Owner == "" {
		return nil, fmt.Errorf("github owner is required")
	}
	if cfg.DefaultRef == "" {
		cfg.DefaultRef = "main"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}

	c := &Client{
		api:        gh.NewClient(httpClient).WithAuthToken(cfg.Token),
		httpClient: httpClient,
		owner:      cfg.Owner,
		defaultRef: cfg.DefaultRef,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Owner returns the organization the client operates on.
func (c *Client) Owner() string {
	return c.owner
}

// EnsureRepository verifies the named repository exists, creating a private
// one when it does not. Any other API failure is returned as-is.
func (c *Client) EnsureRepository(ctx context.Context, name string) error {
	_, resp, err := c.api.Repositories.Get(ctx, c.owner, name)
	if err == nil {
		return nil
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("get repository %s/%s: %w", c.owner, name, err)
	}

	c.logger.Info("creating challenge repository", "owner", c.owner, "repo", name)

	repo := &gh.Repository{
		Name:     gh.String(name),
		Private:  gh.Bool(true),
		AutoInit: gh.Bool(true),
	}
	if _, _, err := c.api.Repositories.Create(ctx, c.owner, repo); err != nil {
		return fmt.Errorf("create repository %s/%s: %w", c.owner, name, err)
	}
	return nil
}

// DispatchWorkflow triggers a workflow_dispatch event for the given workflow
// file. The API returns no body on success, so success is the absence of an
// error; the external run id is recovered later from webhook events.
func (c *Client) DispatchWorkflow(ctx context.Context, repo, fileName, ref string, inputs map[string]interface{}) error {
	if ref == "" {
		ref = c.defaultRef
	}

	event := gh.CreateWorkflowDispatchEventRequest{
		Ref:    ref,
		Inputs: inputs,
	}
	if _, err := c.api.Actions.CreateWorkflowDispatchEventByFileName(ctx, c.owner, repo, fileName, event); err != nil {
		return fmt.Errorf("dispatch workflow %s in %s/%s: %w", fileName, c.owner, repo, err)
	}

	c.logger.Debug("workflow dispatched", "repo", repo, "file", fileName, "ref", ref)
	return nil
}

// RunContext downloads the logs of a completed workflow job and extracts the
// run context markers the bootstrap job prints.
func (c *Client) RunContext(ctx context.Context, repo string, jobID int64) (*RunContext, error) {
	logURL, _, err := c.api.Actions.GetWorkflowJobLogs(ctx, c.owner, repo, jobID, 4)
	if err != nil {
		return nil, fmt.Errorf("get job logs url for job %d in %s/%s: %w", jobID, c.owner, repo, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, logURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build log request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download job logs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download job logs: unexpected status %d", resp.StatusCode)
	}

	rc, err := ParseRunContext(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse job logs for job %d: %w", jobID, err)
	}
	return rc, nil
}
