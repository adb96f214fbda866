// Package hrvclient talks to the HRV store API.
package hrvclient

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/oliverhazley/MindMend/internal/httpapi"
	"github.com/oliverhazley/MindMend/internal/session"
)

const DefaultTimeout = 10 * time.Second

// StatusError is returned for any non-2xx answer from the store. Message is
// set when the store replied with its JSON error body.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
	Body       string
}

func (e *StatusError) Error() string {
	detail := e.Message
	if detail == "" {
		detail = e.Body
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.StatusCode, detail)
}

type Reading struct {
	ReadingTime time.Time `json:"reading_time"`
	HRVValue    float64   `json:"hrv_value"`
}

type uploadRequest struct {
	UserID   string  `json:"user_id"`
	HRVValue float64 `json:"hrv_value"`
}

type uploadResponse struct {
	Message string `json:"message"`
	HRVID   int64  `json:"hrv_id"`
}

// Client uploads readings. Failed requests are never retried: a stale HRV
// value is worth less than the next fresh one.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

var _ session.Uploader = (*Client)(nil)

func New(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	if token != "" {
		rc.SetAuthToken(token)
	}
	return &Client{http: rc, logger: logger}
}

// Upload posts one reading to {base}/hrv.
func (c *Client) Upload(ctx context.Context, r session.Reading) error {
	var (
		out    uploadResponse
		apiErr httpapi.ErrorResponse
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(uploadRequest{UserID: r.UserID, HRVValue: r.Value}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/hrv")
	if err != nil {
		return fmt.Errorf("post hrv: %w", err)
	}
	if !resp.IsSuccess() {
		return &StatusError{Method: "POST", Path: "/hrv", StatusCode: resp.StatusCode(), Message: apiErr.Message, Body: resp.String()}
	}

	c.logger.Debug("hrvclient: reading stored", "hrv_id", out.HRVID, "user_id", r.UserID)
	return nil
}

// Readings lists the stored readings of userID, newest first.
func (c *Client) Readings(ctx context.Context, userID string) ([]Reading, error) {
	var (
		out    []Reading
		apiErr httpapi.ErrorResponse
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("user_id", userID).
		SetResult(&out).
		SetError(&apiErr).
		Get("/hrv")
	if err != nil {
		return nil, fmt.Errorf("get hrv: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, &StatusError{Method: "GET", Path: "/hrv", StatusCode: resp.StatusCode(), Message: apiErr.Message, Body: resp.String()}
	}
	return out, nil
}
