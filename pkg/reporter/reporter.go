// Package reporter posts job results back to the coordinator's
// liaison endpoint, retrying transient failures. The original worker
// called requests.post directly with no retry; this generalizes that
// single call into a bounded-retry POST using a backoff library
// rather than hand-rolling a retry loop.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/deepdriveio/botworker/pkg/identity"
)

// MaxAttempts and RetryInterval implement a "5 attempts, 1s fixed
// backoff" policy.
const (
	MaxAttempts   = 5
	RetryInterval = time.Second
)

// terminalStatuses are the HTTP statuses the business layer treats as
// final outcomes rather than transient failures: 200 success, 400/500
// carrying a structured error payload the caller still wants to see.
var terminalStatuses = map[int]bool{
	http.StatusOK:                  true,
	http.StatusBadRequest:          true,
	http.StatusInternalServerError: true,
}

// Reporter posts job results with retry.
type Reporter struct {
	client *http.Client
	cfg    identity.Config
}

// New returns a Reporter using http.DefaultClient.
func New(cfg identity.Config) *Reporter {
	return &Reporter{client: http.DefaultClient, cfg: cfg}
}

// Post sends body as JSON to url, retrying non-terminal failures up
// to MaxAttempts times with a fixed 1s backoff. In test mode the call
// is elided entirely and Post returns nil.
func (r *Reporter) Post(ctx context.Context, url string, body interface{}) (*http.Response, error) {
	if r.cfg.IsTest {
		return nil, nil
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("reporter: marshal body: %w", err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(RetryInterval), MaxAttempts-1),
		ctx,
	)

	var resp *http.Response
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("reporter: build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err = r.client.Do(req)
		if err != nil {
			return fmt.Errorf("reporter: post %s: %w", url, err)
		}
		if !terminalStatuses[resp.StatusCode] {
			return fmt.Errorf("reporter: non-terminal status %d from %s", resp.StatusCode, url)
		}
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return resp, nil
}
