package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to the certdesk admin API
type Client struct {
	BaseURL    string
	AdminKey   string
	HTTPClient *http.Client
}

// ErrorResponse is the error body returned by the server
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// LogEntry is one audit log record
type LogEntry struct {
	EventID   string `json:"event_id"`
	Timestamp string `json:"timestamp"`
	IPAddress string `json:"ip_address"`
	Endpoint  string `json:"endpoint"`
	Name      string `json:"name"`
	ID        string `json:"id"`
	Status    string `json:"status"`
	Reason    string `json:"reason"`
}

// LogsResponse is returned by /admin/logs
type LogsResponse struct {
	TotalLogs int        `json:"total_logs"`
	Logs      []LogEntry `json:"logs"`
}

// Verdict is one suspicious address
type Verdict struct {
	IP                  string `json:"ip"`
	RecentRequests      int    `json:"recent_requests"`
	FailedAttempts      int    `json:"failed_attempts"`
	SuccessfulDownloads int    `json:"successful_downloads"`
	Suspicious          bool   `json:"suspicious"`
	Reason              string `json:"reason"`
}

// SuspiciousResponse is returned by /admin/suspicious-ips
type SuspiciousResponse struct {
	SuspiciousCount int       `json:"suspicious_count"`
	SuspiciousIPs   []Verdict `json:"suspicious_ips"`
}

// BulkFailure is a certificate that could not be rendered
type BulkFailure struct {
	CertificateID string `json:"certificate_id"`
	ID            string `json:"id"`
	Error         string `json:"error"`
}

// BulkResponse is returned by the generate-all endpoints
type BulkResponse struct {
	Success         bool          `json:"success"`
	TotalStudents   int           `json:"total_students"`
	TotalManagement int           `json:"total_management"`
	Generated       int           `json:"generated"`
	Skipped         int           `json:"skipped"`
	Failed          int           `json:"failed"`
	GeneratedIDs    []string      `json:"generated_ids"`
	SkippedIDs      []string      `json:"skipped_ids"`
	Failures        []BulkFailure `json:"failures"`
	DuplicateIDs    []string      `json:"duplicate_ids"`
}

// Total returns the roster size whichever kind was generated
func (b *BulkResponse) Total() int {
	return b.TotalStudents + b.TotalManagement
}

// RateLimitClient is one tracked window
type RateLimitClient struct {
	Identity  string `json:"identity"`
	Action    string `json:"action"`
	Hits      int    `json:"hits"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	LastSeen  string `json:"last_seen"`
	ResetAt   string `json:"reset_at"`
}

// RateLimitStats is returned by /admin/ratelimit/stats
type RateLimitStats struct {
	Enabled     bool              `json:"enabled"`
	MaxRequests int               `json:"max_requests"`
	Window      string            `json:"window"`
	Count       int               `json:"count"`
	Clients     []RateLimitClient `json:"clients"`
}

// ResetResponse is returned by the reset endpoints
type ResetResponse struct {
	Message string `json:"message"`
	IP      string `json:"ip,omitempty"`
	Removed int    `json:"removed"`
}

// NewClient creates a client for baseURL
func NewClient(baseURL, adminKey string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		AdminKey: adminKey,
		HTTPClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// Logs fetches audit entries. Zero values leave the server defaults.
func (c *Client) Logs(ctx context.Context, ip string, limit, days int) (*LogsResponse, error) {
	q := url.Values{}
	if ip != "" {
		q.Set("ip", ip)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if days > 0 {
		q.Set("days", strconv.Itoa(days))
	}

	var out LogsResponse
	if err := c.do(ctx, http.MethodGet, "/admin/logs", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Suspicious lists suspicious addresses seen within window
func (c *Client) Suspicious(ctx context.Context, window time.Duration) (*SuspiciousResponse, error) {
	q := url.Values{}
	if minutes := int(window / time.Minute); minutes > 0 {
		q.Set("window", strconv.Itoa(minutes))
	}

	var out SuspiciousResponse
	if err := c.do(ctx, http.MethodGet, "/admin/suspicious-ips", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateAll renders the missing certificates of one roster
func (c *Client) GenerateAll(ctx context.Context, management, force bool) (*BulkResponse, error) {
	path := "/generate-all"
	if management {
		path = "/generate-all-management"
	}
	q := url.Values{}
	if force {
		q.Set("force", "true")
	}

	var out BulkResponse
	if err := c.do(ctx, http.MethodGet, path, q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RateLimitStats fetches the tracked windows
func (c *Client) RateLimitStats(ctx context.Context) (*RateLimitStats, error) {
	var out RateLimitStats
	if err := c.do(ctx, http.MethodGet, "/admin/ratelimit/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResetRateLimit drops the windows of ip, or every window when ip is empty
func (c *Client) ResetRateLimit(ctx context.Context, ip string) (*ResetResponse, error) {
	path := "/admin/ratelimit/reset"
	if ip != "" {
		path += "/" + url.PathEscape(ip)
	}

	var out ResetResponse
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Token requests a fresh security token
func (c *Client) Token(ctx context.Context) (string, error) {
	var out struct {
		Token string `json:"csrf_token"`
	}
	if err := c.do(ctx, http.MethodGet, "/csrf-token", nil, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out interface{}) error {
	target := c.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.AdminKey != "" {
		req.Header.Set("X-Admin-Key", c.AdminKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("server error: %s - %s", errResp.Error, errResp.Message)
		}
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
