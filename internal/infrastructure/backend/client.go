// Package backend is the HTTP client for the marketing site's visitor API.
// The backend owns sessions and visit records; this service only round-trips
// through it.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mahakalaqua/visitor-tracker/internal/domain/errors"
	"github.com/mahakalaqua/visitor-tracker/internal/domain/visitor"
	"go.uber.org/zap"
)

// sessionHeader carries the visitor's backend session id on requests
const sessionHeader = "X-Visitor-Session"

// Client talks to the visitor endpoints of the marketing backend
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a backend client
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Session fetches the backend's view of the visitor. sessionID may be empty
// for a first-time visitor.
func (c *Client) Session(ctx context.Context, sessionID string) (visitor.VisitorSession, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/visitor/session", nil)
	if err != nil {
		return visitor.VisitorSession{}, errors.NewInternalError("building session request").WithCause(err)
	}
	if sessionID != "" {
		req.Header.Set(sessionHeader, sessionID)
	}

	var session visitor.VisitorSession
	if err := c.do(req, &session); err != nil {
		return visitor.VisitorSession{}, err
	}
	return session, nil
}

// Track reports a consent decision and returns the visit id minted by the
// backend, if any.
func (c *Client) Track(ctx context.Context, sessionID string, track visitor.TrackRequest) (string, error) {
	var resp visitor.TrackResponse
	if err := c.post(ctx, sessionID, "/visitor/track", track, &resp); err != nil {
		return "", err
	}
	return resp.VisitID, nil
}

// SubmitLocation sends an acquired position to the backend
func (c *Client) SubmitLocation(ctx context.Context, sessionID string, data visitor.LocationData) (bool, error) {
	var resp struct {
		Success bool `json:"success"`
	}
	if err := c.post(ctx, sessionID, "/visitor/location", data, &resp); err != nil {
		return false, err
	}
	return resp.Success, nil
}

// SubmitContact sends validated contact details to the backend
func (c *Client) SubmitContact(ctx context.Context, sessionID string, data visitor.ContactData) (bool, error) {
	var resp struct {
		Success bool `json:"success"`
	}
	if err := c.post(ctx, sessionID, "/visitor/contact", data, &resp); err != nil {
		return false, err
	}
	return resp.Success, nil
}

func (c *Client) post(ctx context.Context, sessionID, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.NewInternalError("encoding request body").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.NewInternalError("building request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(sessionHeader, sessionID)
	}

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("backend call failed",
			zap.String("path", req.URL.Path),
			zap.Error(err))
		return errors.NewExternalError("visitor backend", "request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("backend returned non-2xx",
			zap.String("path", req.URL.Path),
			zap.Int("status", resp.StatusCode))
		return errors.NewExternalError("visitor backend",
			fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.NewExternalError("visitor backend", "malformed response").WithCause(err)
		}
	}
	return nil
}
