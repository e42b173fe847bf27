package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"pos-sync-service/internal/errs"
)

// HTTPTransport talks to the backend sync API over JSON.
type HTTPTransport struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPTransport(baseURL, token string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTransport) Push(ctx context.Context, batches []PushBatch) (*PushAck, error) {
	body, err := json.Marshal(map[string]any{"batches": batches})
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidData, "failed to marshal push batch", err)
	}

	var ack PushAck
	if err := t.do(ctx, http.MethodPost, "/sync/push", bytes.NewReader(body), &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

func (t *HTTPTransport) Pull(ctx context.Context, since time.Time) (*PullResult, error) {
	path := "/sync/pull?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))

	var result PullResult
	if err := t.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return errs.Wrap(errs.KindClient, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindNetwork, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errs.FromStatusCode(resp.StatusCode,
			fmt.Sprintf("%s %s: %s: %s", method, path, resp.Status, string(payload)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Wrap(errs.KindServer, "failed to decode response", err)
	}
	return nil
}
