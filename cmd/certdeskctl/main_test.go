package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	query  string
	key    string
}

func newTestServer(t *testing.T) (*httptest.Server, *[]recorded) {
	t.Helper()
	var calls []recorded

	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("/admin/logs", func(w http.ResponseWriter, r *http.Request) {
		reply(w, LogsResponse{TotalLogs: 1, Logs: []LogEntry{{
			Timestamp: "2026-10-14T09:00:00.000000", IPAddress: "10.0.0.7",
			Endpoint: "get_certificate", Name: "Jane Doe", ID: "S123", Status: "success",
		}}})
	})
	mux.HandleFunc("/admin/suspicious-ips", func(w http.ResponseWriter, r *http.Request) {
		reply(w, SuspiciousResponse{SuspiciousCount: 1, SuspiciousIPs: []Verdict{{
			IP: "10.0.0.66", RecentRequests: 6, FailedAttempts: 6, Suspicious: true, Reason: "too many failures",
		}}})
	})
	mux.HandleFunc("/generate-all", func(w http.ResponseWriter, r *http.Request) {
		reply(w, BulkResponse{Success: true, TotalStudents: 2, Generated: 1, Skipped: 1,
			GeneratedIDs: []string{"Jane_Doe"}, SkippedIDs: []string{"John_Roe"}})
	})
	mux.HandleFunc("/generate-all-management", func(w http.ResponseWriter, r *http.Request) {
		reply(w, BulkResponse{TotalManagement: 1, Failed: 1,
			Failures: []BulkFailure{{CertificateID: "Alex_Smith", ID: "M01", Error: "template not found"}}})
	})
	mux.HandleFunc("/admin/ratelimit/stats", func(w http.ResponseWriter, r *http.Request) {
		reply(w, RateLimitStats{Enabled: true, MaxRequests: 5, Window: "1m0s", Count: 1,
			Clients: []RateLimitClient{{Identity: "10.0.0.7", Action: "verify", Hits: 2, Limit: 5, Remaining: 3}}})
	})
	mux.HandleFunc("/admin/ratelimit/reset", func(w http.ResponseWriter, r *http.Request) {
		reply(w, ResetResponse{Message: "All rate limiters reset"})
	})
	mux.HandleFunc("/admin/ratelimit/reset/", func(w http.ResponseWriter, r *http.Request) {
		reply(w, ResetResponse{Message: "Rate limit reset successfully", Removed: 2})
	})
	mux.HandleFunc("/csrf-token", func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]string{"csrf_token": "tok-123"})
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, key: r.Header.Get("X-Admin-Key")})
		if r.URL.Path != "/csrf-token" && r.Header.Get("X-Admin-Key") != "s3cret" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Unauthorized","message":"Invalid admin key"}`))
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLogsCommand(t *testing.T) {
	srv, calls := newTestServer(t)

	out, err := run(t, "--server", srv.URL, "--admin-key", "s3cret", "logs", "--ip", "10.0.0.7", "--limit", "10", "--days", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Jane Doe")
	assert.Contains(t, out, "1 entries")

	require.Len(t, *calls, 1)
	c := (*calls)[0]
	assert.Equal(t, "/admin/logs", c.path)
	assert.Equal(t, "days=3&ip=10.0.0.7&limit=10", c.query)
	assert.Equal(t, "s3cret", c.key)
}

func TestLogsCommand_Unauthorized(t *testing.T) {
	srv, _ := newTestServer(t)

	_, err := run(t, "--server", srv.URL, "--admin-key", "wrong", "logs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid admin key")
}

func TestSuspiciousCommand(t *testing.T) {
	srv, calls := newTestServer(t)

	out, err := run(t, "--server", srv.URL, "--admin-key", "s3cret", "suspicious", "--window", "2h")
	require.NoError(t, err)
	assert.Contains(t, out, "10.0.0.66")
	assert.Contains(t, out, "too many failures")
	assert.Equal(t, "window=120", (*calls)[0].query)
}

func TestGenerateAllCommand(t *testing.T) {
	srv, calls := newTestServer(t)

	out, err := run(t, "--server", srv.URL, "--admin-key", "s3cret", "generate-all", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Total: 2  Generated: 1  Skipped: 1  Failed: 0")
	assert.Equal(t, "force=true", (*calls)[0].query)

	out, err = run(t, "--server", srv.URL, "--admin-key", "s3cret", "generate-all", "--management")
	require.Error(t, err)
	assert.Contains(t, out, "Alex_Smith (M01): template not found")
	assert.Equal(t, "/generate-all-management", (*calls)[1].path)
}

func TestRateLimitCommands(t *testing.T) {
	srv, calls := newTestServer(t)

	out, err := run(t, "--server", srv.URL, "--admin-key", "s3cret", "ratelimit", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Limit: 5 requests per 1m0s, 1 windows tracked")
	assert.Contains(t, out, "10.0.0.7")

	out, err = run(t, "--server", srv.URL, "--admin-key", "s3cret", "ratelimit", "reset", "10.0.0.7")
	require.NoError(t, err)
	assert.Contains(t, out, "Rate limit reset successfully")
	assert.Equal(t, http.MethodPost, (*calls)[1].method)
	assert.Equal(t, "/admin/ratelimit/reset/10.0.0.7", (*calls)[1].path)

	out, err = run(t, "--server", srv.URL, "--admin-key", "s3cret", "ratelimit", "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "All rate limiters reset")
	assert.Equal(t, "/admin/ratelimit/reset", (*calls)[2].path)
}

func TestTokenAndVersion(t *testing.T) {
	srv, _ := newTestServer(t)

	out, err := run(t, "--server", srv.URL, "token")
	require.NoError(t, err)
	assert.Equal(t, "tok-123\n", out)

	out, err = run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "certdeskctl version")
}

func TestJSONOutput(t *testing.T) {
	srv, _ := newTestServer(t)

	out, err := run(t, "--server", srv.URL, "--admin-key", "s3cret", "--json", "suspicious")
	require.NoError(t, err)

	var res SuspiciousResponse
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 1, res.SuspiciousCount)
}

func TestClient_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "")
	assert.Equal(t, srv.URL, c.BaseURL)

	_, err := c.Suspicious(context.Background(), 30*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status code: 502")
}
