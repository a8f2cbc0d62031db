package anomaly

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/neogan74/certdesk/internal/audit"
	"github.com/neogan74/certdesk/internal/logger"
	"github.com/neogan74/certdesk/internal/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 1, 14, 0, 0, 0, time.Local)

func newLog(now *time.Time) *audit.Log {
	return audit.New(persistence.NewMemoryEngine(), logger.NewNop(),
		audit.WithClock(func() time.Time { return *now }))
}

func record(log *audit.Log, ip string, status audit.Outcome, n int) {
	for i := 0; i < n; i++ {
		log.Append(context.Background(), audit.Record{IP: ip, Endpoint: "get_certificate", Status: status})
	}
}

func TestDetector_Thresholds(t *testing.T) {
	testCases := []struct {
		name       string
		failed     int
		success    int
		suspicious bool
		reason     string
	}{
		{"six failures", 6, 0, true, ReasonTooManyFailures},
		{"four successes", 0, 4, true, ReasonTooManySuccesses},
		{"mixed below both", 2, 2, false, ReasonNormal},
		{"at the failure limit", 5, 3, false, ReasonNormal},
		{"failures win over successes", 6, 4, true, ReasonTooManyFailures},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			now := base
			log := newLog(&now)
			record(log, "10.0.0.1", audit.OutcomeFailed, tc.failed)
			record(log, "10.0.0.1", audit.OutcomeSuccess, tc.success)
			record(log, "10.0.0.2", audit.OutcomeFailed, 10)

			d := NewDetector(log, DefaultConfig(), logger.NewNop(), WithClock(func() time.Time { return now }))
			v, err := d.Assess(context.Background(), "10.0.0.1")
			require.NoError(t, err)

			assert.Equal(t, "10.0.0.1", v.IP)
			assert.Equal(t, tc.failed+tc.success, v.RecentRequests)
			assert.Equal(t, tc.failed, v.FailedAttempts)
			assert.Equal(t, tc.success, v.SuccessfulDownloads)
			assert.Equal(t, tc.suspicious, v.Suspicious)
			assert.Equal(t, tc.reason, v.Reason)
		})
	}
}

func TestDetector_Window(t *testing.T) {
	now := base
	log := newLog(&now)
	record(log, "ip", audit.OutcomeFailed, 6)

	now = base.Add(11 * time.Minute)
	record(log, "ip", audit.OutcomeFailed, 1)

	d := NewDetector(log, DefaultConfig(), logger.NewNop(), WithClock(func() time.Time { return now }))
	v, err := d.Assess(context.Background(), "ip")
	require.NoError(t, err)
	assert.Equal(t, 1, v.RecentRequests)
	assert.False(t, v.Suspicious)

	v, err = d.AssessWindow(context.Background(), "ip", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 7, v.FailedAttempts)
	assert.True(t, v.Suspicious)
}

type staticSource []audit.Entry

func (s staticSource) Query(_ context.Context, f audit.Filter) ([]audit.Entry, error) {
	var out []audit.Entry
	for _, e := range s {
		if f.IP == "" || e.IPAddress == f.IP {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestDetector_MalformedTimestamps(t *testing.T) {
	ts := base.Format(audit.TimestampLayout)
	source := staticSource{
		{IPAddress: "ip", Timestamp: "not a time", Status: audit.OutcomeFailed},
		{IPAddress: "ip", Timestamp: "", Status: audit.OutcomeFailed},
		{IPAddress: "ip", Timestamp: ts, Status: audit.OutcomeFailed},
	}

	d := NewDetector(source, DefaultConfig(), logger.NewNop(), WithClock(func() time.Time { return base }))
	v, err := d.Assess(context.Background(), "ip")
	require.NoError(t, err)
	assert.Equal(t, 1, v.RecentRequests)
	assert.Equal(t, 1, v.FailedAttempts)
}

func TestDetector_Scan(t *testing.T) {
	now := base
	log := newLog(&now)
	record(log, "10.0.0.1", audit.OutcomeFailed, 7)
	record(log, "10.0.0.2", audit.OutcomeFailed, 9)
	record(log, "10.0.0.3", audit.OutcomeSuccess, 5)
	record(log, "10.0.0.4", audit.OutcomeSuccess, 1)

	d := NewDetector(log, DefaultConfig(), logger.NewNop(), WithClock(func() time.Time { return now }))
	verdicts, err := d.Scan(context.Background(), time.Hour)
	require.NoError(t, err)
	require.Len(t, verdicts, 3)

	assert.Equal(t, "10.0.0.2", verdicts[0].IP)
	assert.Equal(t, "10.0.0.1", verdicts[1].IP)
	assert.Equal(t, "10.0.0.3", verdicts[2].IP)
	assert.Equal(t, ReasonTooManySuccesses, verdicts[2].Reason)
}

func TestDetector_ScanEmpty(t *testing.T) {
	now := base
	d := NewDetector(newLog(&now), Config{}, logger.NewNop(), WithClock(func() time.Time { return now }))

	verdicts, err := d.Scan(context.Background(), 0)
	require.NoError(t, err)
	assert.NotNil(t, verdicts)
	assert.Empty(t, verdicts)
}

type failingSource struct{}

func (failingSource) Query(context.Context, audit.Filter) ([]audit.Entry, error) {
	return nil, errors.New("boom")
}

func TestDetector_Monitor(t *testing.T) {
	now := base
	log := newLog(&now)
	record(log, "ip", audit.OutcomeSuccess, 4)

	d := NewDetector(log, DefaultConfig(), logger.NewNop(), WithClock(func() time.Time { return now }))
	v := d.Monitor(context.Background(), "ip")
	assert.True(t, v.Suspicious)

	v = NewDetector(failingSource{}, DefaultConfig(), logger.NewNop()).Monitor(context.Background(), "ip")
	assert.False(t, v.Suspicious)
}

func TestNewDetector_Defaults(t *testing.T) {
	d := NewDetector(staticSource{}, Config{MaxFailures: 2, MaxSuccesses: 1}, nil)
	cfg := d.Config()
	assert.Equal(t, 10*time.Minute, cfg.Window)
	assert.Equal(t, time.Hour, cfg.ScanWindow)
	assert.Equal(t, 1000, cfg.HistoryLimit)
	assert.Equal(t, 2, cfg.MaxFailures)
}
