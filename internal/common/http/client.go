// internal/common/http/client.go
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "civic-notify/internal/common/errors"
	"civic-notify/internal/notification/dispatcher"
)

// Client posts domain events to the internal trigger endpoints. Other
// subsystems use it after their own transaction commits.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, internalToken string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   internalToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// WithTransport swaps the round tripper, mainly for tests.
func (c *Client) WithTransport(rt http.RoundTripper) *Client {
	c.httpClient.Transport = rt
	return c
}

func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	return c.httpClient.Do(req)
}

// EventPath maps an event kind to its trigger path, e.g. report_created to
// /internal/events/report-created.
func EventPath(kind dispatcher.Kind) string {
	return "/internal/events/" + strings.ReplaceAll(string(kind), "_", "-")
}

// PostEvent submits ev. A 202 is success; any other status is decoded into a
// StandardError.
func (c *Client) PostEvent(ctx context.Context, ev dispatcher.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return apperrors.NewValidationErrorf("encode event: %v", err)
	}
	return c.PostRaw(ctx, ev.Kind(), body)
}

// PostRaw submits an already encoded event payload.
func (c *Client) PostRaw(ctx context.Context, kind dispatcher.Kind, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+EventPath(kind), bytes.NewReader(body))
	if err != nil {
		return apperrors.NewValidationErrorf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Token", c.token)

	resp, err := c.DoWithContext(ctx, req)
	if err != nil {
		return apperrors.NewDependencyFailureError("notification service", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return decodeError(resp)
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var stdErr apperrors.StandardError
	if err := json.Unmarshal(raw, &stdErr); err == nil && stdErr.Code != "" {
		switch stdErr.Code {
		case apperrors.ErrCodeValidation:
			return apperrors.NewValidationError(firstNonEmpty(stdErr.Details, stdErr.Message))
		case apperrors.ErrCodeNotFound:
			return apperrors.NewNotFoundError("event kind", firstNonEmpty(stdErr.Details, stdErr.Message))
		case apperrors.ErrCodeAuthentication:
			return apperrors.NewAuthenticationError(firstNonEmpty(stdErr.Details, stdErr.Message))
		}
	}

	return apperrors.NewDependencyFailureError("notification service",
		fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
