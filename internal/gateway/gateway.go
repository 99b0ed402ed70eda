// Package gateway wraps the external services the pipeline depends on:
// the download resolver, the analysis backend and the batch clip processor.
// Each client enforces its own wall-clock deadline and classifies failures
// so the orchestrator can tell retriable from terminal ones.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/viralcut/viralcut-backend/internal/pkg/apperr"
)

// envelope is the shared status/error pair every upstream response carries.
// A status of "error" inside a 2xx payload is a terminal failure for the
// phase and is never retried.
type envelope struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (e envelope) failed() bool { return e.Status == "error" }

func (e envelope) message(service string) string {
	if e.Error != "" {
		return e.Error
	}
	return service + " reported an error"
}

func classifyTransport(service string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindTimeout, service+" deadline exceeded", err)
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return apperr.Wrap(apperr.KindTimeout, service+" deadline exceeded", err)
	}
	return apperr.Wrap(apperr.KindUpstreamServer, service+" request failed", err)
}

func classifyStatus(service string, code int, raw []byte) error {
	msg := fmt.Sprintf("%s http %d: %s", service, code, truncate(raw, 512))
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return apperr.New(apperr.KindAuth, msg)
	case code >= 400 && code < 500:
		return apperr.New(apperr.KindUpstreamClient, msg)
	default:
		return apperr.New(apperr.KindUpstreamServer, msg)
	}
}

func truncate(raw []byte, n int) string {
	if len(raw) > n {
		raw = raw[:n]
	}
	return string(raw)
}

func doJSON[T any](ctx context.Context, httpc *http.Client, service, method, u, token string, body any) (*T, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, service+" encode request", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, service+" build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httpc.Do(req)
	if err != nil {
		return nil, classifyTransport(service, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(service, resp.StatusCode, raw)
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamServer, fmt.Sprintf("%s decode response: %s", service, truncate(raw, 512)), err)
	}
	return &out, nil
}
