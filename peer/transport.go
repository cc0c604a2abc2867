package peer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/ruteri/vault-session-broker/interfaces"
)

// Transport delivers signed requests to the controller. An empty result is
// returned as nil without error.
type Transport interface {
	Call(ctx context.Context, operation string, envelope Envelope, params map[string]any) (any, error)
}

// OperationPath returns the controller route of operation.
func OperationPath(operation string) string {
	return "/api/vault/" + operation
}

// HTTPTransport posts requests to the controller's HTTP API. Connection
// errors and 5xx responses are retried with exponential backoff.
type HTTPTransport struct {
	baseURL    string
	client     *http.Client
	maxElapsed time.Duration
	log        *slog.Logger
}

// NewHTTPTransport creates a transport for the controller at baseURL.
func NewHTTPTransport(baseURL string, timeout time.Duration, log *slog.Logger) *HTTPTransport {
	return &HTTPTransport{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		client:     &http.Client{Timeout: timeout},
		maxElapsed: 30 * time.Second,
		log:        log,
	}
}

func (t *HTTPTransport) retryStrategy(ctx context.Context) backoff.BackOff {
	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = 200 * time.Millisecond
	strategy.MaxElapsedTime = t.maxElapsed
	return backoff.WithContext(strategy, ctx)
}

func (t *HTTPTransport) Call(ctx context.Context, operation string, envelope Envelope, params map[string]any) (any, error) {
	body, err := json.Marshal(Payload{Envelope: envelope, Params: params})
	if err != nil {
		return nil, fmt.Errorf("failed to encode controller request: %w", err)
	}
	url := t.baseURL + OperationPath(operation)

	var result any
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := t.client.Do(req)
		if err != nil {
			t.log.Debug("Controller request failed, retrying", slog.String("operation", operation), "err", err)
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(fmt.Errorf("%w: controller rejected %s: %s", interfaces.ErrPermissionDenied, operation, strings.TrimSpace(string(data))))
		case resp.StatusCode == http.StatusNotFound:
			// operation not published by the controller
			result = nil
			return nil
		case resp.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("controller returned %d for %s", resp.StatusCode, operation)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(interfaces.ExecutionErrorf("controller returned %d for %s: %s", resp.StatusCode, operation, strings.TrimSpace(string(data))))
		}

		if len(bytes.TrimSpace(data)) == 0 {
			result = nil
			return nil
		}
		if err := json.Unmarshal(data, &result); err != nil {
			return backoff.Permanent(interfaces.ExecutionErrorf("undecodable controller response for %s: %v", operation, err))
		}
		return nil
	}

	if err := backoff.Retry(op, t.retryStrategy(ctx)); err != nil {
		if errors.Is(err, interfaces.ErrPermissionDenied) || errors.Is(err, interfaces.ErrExecution) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: controller request %s failed: %v", interfaces.ErrExecution, operation, err)
	}
	return result, nil
}
