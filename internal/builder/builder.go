// Package builder drives the companion RPM-builder repository: it dispatches
// a workflow run for a kernel/driver version pair, polls the run until it
// finishes and downloads the resulting RPM artifacts.
package builder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/maccel-img/buildtools/internal/common"
	"github.com/maccel-img/buildtools/internal/retrier"
)

var (
	// ErrRunNotFound means no workflow run matching the correlation id
	// turned up within the retry budget.
	ErrRunNotFound = errors.New("build run not found")

	// ErrRunFailed means the workflow run completed unsuccessfully.
	ErrRunFailed = errors.New("build run failed")

	// ErrTimeout means the run did not complete within the wait budget.
	ErrTimeout = errors.New("timed out waiting for build run")
)

type Run struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
}

// Completed run statuses per the Actions API.
const (
	statusCompleted     = "completed"
	conclusionSucceeded = "success"
)

type ClientConfig struct {
	BaseURL      string
	Owner        string
	Repo         string
	WorkflowFile string
	Ref          string
	Token        string
	Logger       *logrus.Logger

	// Retrier overrides the bounded-retry policy used for run lookup.
	Retrier *retrier.Retrier

	// Sleep is used between run-status polls. Nil means time.Sleep.
	Sleep func(time.Duration)
}

type Client struct {
	client       *http.Client
	baseURL      *url.URL
	owner        string
	repo         string
	workflowFile string
	ref          string
	token        string
	retrier      *retrier.Retrier
	sleep        func(time.Duration)
}

func NewClient(config ClientConfig) (*Client, error) {
	baseURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing builder API URL: %w", err)
	}

	rc := retryablehttp.NewClient()
	rc.Logger = common.NewRHLeveledLogger(config.Logger)
	rc.RetryMax = 0

	r := config.Retrier
	if r == nil {
		r = retrier.New()
	}
	sleep := config.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	ref := config.Ref
	if ref == "" {
		ref = "main"
	}

	return &Client{
		client:       rc.StandardClient(),
		baseURL:      baseURL,
		owner:        config.Owner,
		repo:         config.Repo,
		workflowFile: config.WorkflowFile,
		ref:          ref,
		token:        config.Token,
		retrier:      r,
		sleep:        sleep,
	}, nil
}

// Dispatch triggers a builder workflow run and returns the correlation id
// that identifies it. The id is passed as a workflow input and the builder
// echoes it into the run name, which is the only way to find the run again.
func (c *Client) Dispatch(ctx context.Context, kernelVersion, driverVersion string) (string, error) {
	correlationID := uuid.NewString()

	body := map[string]interface{}{
		"ref": c.ref,
		"inputs": map[string]string{
			"kernel_version": kernelVersion,
			"driver_version": driverVersion,
			"correlation_id": correlationID,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}

	apiPath := path.Join("repos", c.owner, c.repo, "actions", "workflows", c.workflowFile, "dispatches")
	resp, err := c.do(ctx, "POST", apiPath, "", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return "", fmt.Errorf("dispatching builder workflow returned status: %s", resp.Status)
	}

	logrus.WithFields(logrus.Fields{
		"kernel_version": kernelVersion,
		"driver_version": driverVersion,
		"correlation_id": correlationID,
	}).Info("Dispatched builder workflow")

	return correlationID, nil
}

// FindRun locates the dispatched run by its correlation id. The Actions API
// is eventually consistent after a dispatch, so the lookup retries with the
// usual bounded policy.
func (c *Client) FindRun(ctx context.Context, correlationID string) (*Run, error) {
	var found *Run
	err := c.retrier.Do(func() error {
		var runs workflowRuns
		apiPath := path.Join("repos", c.owner, c.repo, "actions", "workflows", c.workflowFile, "runs")
		if err := c.getJSON(ctx, apiPath, "event=workflow_dispatch&per_page=20", &runs); err != nil {
			return err
		}
		for i, run := range runs.WorkflowRuns {
			if containsCorrelation(run.Name, correlationID) {
				found = &runs.WorkflowRuns[i]
				return nil
			}
		}
		return fmt.Errorf("no run carries correlation id %s yet", correlationID)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRunNotFound, err)
	}
	return found, nil
}

// WaitForRun polls the run at a fixed interval until it completes, fails, or
// the wait budget is exhausted. The whole process blocks for the duration;
// cancelling the context is the only way to interrupt it early.
func (c *Client) WaitForRun(ctx context.Context, runID int64, interval, budget time.Duration) (*Run, error) {
	var waited time.Duration
	for {
		var run Run
		apiPath := path.Join("repos", c.owner, c.repo, "actions", "runs", fmt.Sprintf("%d", runID))
		err := c.getJSON(ctx, apiPath, "", &run)
		if err != nil {
			return nil, err
		}

		if run.Status == statusCompleted {
			if run.Conclusion != conclusionSucceeded {
				return &run, fmt.Errorf("%w: conclusion %q", ErrRunFailed, run.Conclusion)
			}
			return &run, nil
		}

		if waited >= budget {
			return nil, fmt.Errorf("%w: run %d still %q after %v", ErrTimeout, runID, run.Status, waited)
		}

		logrus.WithFields(logrus.Fields{
			"run":    runID,
			"status": run.Status,
			"waited": waited.String(),
		}).Info("Builder run not finished yet")

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.sleep(interval)
		waited += interval
	}
}

func containsCorrelation(name, id string) bool {
	return id != "" && strings.Contains(name, id)
}

func (c *Client) getJSON(ctx context.Context, apiPath, query string, v interface{}) error {
	resp, err := c.do(ctx, "GET", apiPath, query, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("builder API %q returned status: %s", apiPath, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) do(ctx context.Context, method, apiPath, query string, body *bytes.Reader) (*http.Response, error) {
	u := *c.baseURL
	u.Path = path.Join(u.Path, apiPath)
	u.RawQuery = query

	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, u.String(), body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	return c.client.Do(req)
}

type workflowRuns struct {
	WorkflowRuns []Run `json:"workflow_runs"`
}
