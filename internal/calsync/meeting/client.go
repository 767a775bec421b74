// Package meeting mirrors bookings into a Zoom-style meeting API
// (POST /users/{host}/meetings, PATCH and DELETE /meetings/{id}).
package meeting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"scheduler-service/internal/calsync"
	"scheduler-service/internal/model"
	"scheduler-service/pkg/logging"
)

const defaultTimeout = 20 * time.Second

// Config holds the client-credentials settings for the meeting API.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// Client is the meeting-kind calsync.Adapter.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewClient builds a client whose transport fetches and refreshes bearer
// tokens through the client-credentials grant.
func NewClient(ctx context.Context, cfg Config, logger *logging.Logger) *Client {
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}
	httpClient := cc.Client(ctx)
	httpClient.Timeout = defaultTimeout
	return NewClientWithHTTP(cfg.BaseURL, httpClient, logger)
}

// NewClientWithHTTP uses the given HTTP client as-is.
func NewClientWithHTTP(baseURL string, httpClient *http.Client, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

var _ calsync.Adapter = (*Client)(nil)

func (c *Client) Kind() model.ProviderKind { return model.ProviderMeeting }

type meetingRequest struct {
	Topic     string `json:"topic"`
	Type      int    `json:"type"`
	StartTime string `json:"start_time"`
	Duration  int    `json:"duration"`
	Timezone  string `json:"timezone,omitempty"`
	Agenda    string `json:"agenda,omitempty"`
}

type meetingResponse struct {
	ID      json.Number `json:"id"`
	JoinURL string      `json:"join_url"`
}

// scheduledMeeting is the API's meeting type for a one-off scheduled meeting.
const scheduledMeeting = 2

func (c *Client) Create(ctx context.Context, resource model.Resource, b model.Booking) (calsync.Artifact, error) {
	if resource.MeetingHostID == "" {
		return calsync.Artifact{}, calsync.ErrNotConfigured
	}
	var out meetingResponse
	path := "/users/" + url.PathEscape(resource.MeetingHostID) + "/meetings"
	if err := c.do(ctx, "create", http.MethodPost, path, toRequest(resource, b), &out); err != nil {
		return calsync.Artifact{}, err
	}
	if out.ID == "" {
		return calsync.Artifact{}, calsync.NewError(model.ProviderMeeting, "create", 0, fmt.Errorf("response missing meeting id"))
	}
	c.logger.Info("meeting created", "resource_id", resource.ID, "booking_id", b.ID, "meeting_id", out.ID.String())
	return calsync.Artifact{ExternalID: out.ID.String(), JoinURL: out.JoinURL}, nil
}

func (c *Client) Update(ctx context.Context, resource model.Resource, b model.Booking, externalID string) error {
	if resource.MeetingHostID == "" {
		return calsync.ErrNotConfigured
	}
	if err := c.do(ctx, "update", http.MethodPatch, "/meetings/"+url.PathEscape(externalID), toRequest(resource, b), nil); err != nil {
		return err
	}
	c.logger.Info("meeting updated", "resource_id", resource.ID, "booking_id", b.ID, "meeting_id", externalID)
	return nil
}

func (c *Client) Delete(ctx context.Context, resource model.Resource, externalID string) error {
	err := c.do(ctx, "delete", http.MethodDelete, "/meetings/"+url.PathEscape(externalID), nil, nil)
	if err != nil && !errors.Is(err, calsync.ErrExternalNotFound) {
		return err
	}
	c.logger.Info("meeting deleted", "resource_id", resource.ID, "meeting_id", externalID)
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body any, out any) error {
	if c.baseURL == "" {
		return calsync.ErrNotConfigured
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("meeting: marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("meeting: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return calsync.NewError(model.ProviderMeeting, op, 0, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		c.logger.Warn("meeting api error", "op", op, "status", resp.StatusCode, "body", string(respBody))
		return calsync.NewError(model.ProviderMeeting, op, resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(respBody))))
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return calsync.NewError(model.ProviderMeeting, op, resp.StatusCode, fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

func toRequest(resource model.Resource, b model.Booking) meetingRequest {
	return meetingRequest{
		Topic:     "Appointment: " + b.ClientName,
		Type:      scheduledMeeting,
		StartTime: b.Start.UTC().Format("2006-01-02T15:04:05Z"),
		Duration:  int(b.Duration().Minutes()),
		Timezone:  resource.Timezone,
		Agenda:    b.Notes,
	}
}
