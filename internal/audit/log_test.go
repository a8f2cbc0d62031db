package audit

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/neogan74/certdesk/internal/logger"
	"github.com/neogan74/certdesk/internal/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 10, 30, 0, 0, time.Local)}
}

func newFileLog(t *testing.T, clock *testClock) (*Log, *persistence.FileEngine) {
	t.Helper()
	engine, err := persistence.NewFileEngine(t.TempDir(), "certificate_requests", false, logger.NewNop())
	require.NoError(t, err)
	return New(engine, logger.NewNop(), WithClock(clock.Now), WithSinkName("file")), engine
}

func TestLog_AppendThenQuery(t *testing.T) {
	clock := newTestClock()
	log, _ := newFileLog(t, clock)
	ctx := context.Background()

	log.Append(ctx, Record{IP: "10.0.0.1", Endpoint: "get_certificate", Status: OutcomeFailed, Reason: "not found"})
	clock.Advance(time.Second)
	written := log.Append(ctx, Record{
		IP:       "10.0.0.2",
		Endpoint: "get_certificate",
		Name:     "Jane Doe",
		ID:       "S123",
		Status:   OutcomeSuccess,
	})

	assert.NotEmpty(t, written.EventID)
	assert.Equal(t, "2024-03-01T10:30:01.000000", written.Timestamp)

	first, err := log.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, written, first[0])

	second, err := log.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, first, second, "queries without appends in between are identical")
}

func TestLog_QueryTiesKeepReverseAppendOrder(t *testing.T) {
	clock := newTestClock()
	log := New(persistence.NewMemoryEngine(), logger.NewNop(), WithClock(clock.Now))
	ctx := context.Background()

	a := log.Append(ctx, Record{IP: "ip", Reason: "a"})
	b := log.Append(ctx, Record{IP: "ip", Reason: "b"})
	c := log.Append(ctx, Record{IP: "ip", Reason: "c"})

	entries, err := log.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{c.EventID, b.EventID, a.EventID},
		[]string{entries[0].EventID, entries[1].EventID, entries[2].EventID})
}

func TestLog_QueryFilterAndLimit(t *testing.T) {
	clock := newTestClock()
	log := New(persistence.NewMemoryEngine(), logger.NewNop(), WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 150; i++ {
		ip := "10.0.0.1"
		if i%3 == 0 {
			ip = "10.0.0.2"
		}
		log.Append(ctx, Record{IP: ip, Status: OutcomeFailed})
		clock.Advance(time.Millisecond)
	}

	all, err := log.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, DefaultLimit)

	unlimited, err := log.Query(ctx, Filter{Limit: -1})
	require.NoError(t, err)
	assert.Len(t, unlimited, 150)

	filtered, err := log.Query(ctx, Filter{IP: "10.0.0.2", Limit: 10})
	require.NoError(t, err)
	require.Len(t, filtered, 10)
	for _, e := range filtered {
		assert.Equal(t, "10.0.0.2", e.IPAddress)
	}
}

func TestLog_QuerySinceReadsEarlierDays(t *testing.T) {
	clock := newTestClock()
	log := New(persistence.NewMemoryEngine(), logger.NewNop(), WithClock(clock.Now))
	ctx := context.Background()

	old := log.Append(ctx, Record{IP: "ip", Reason: "two days ago"})
	clock.Advance(24 * time.Hour)
	yesterday := log.Append(ctx, Record{IP: "ip", Reason: "yesterday"})
	clock.Advance(24 * time.Hour)
	today := log.Append(ctx, Record{IP: "ip", Reason: "today"})

	entries, err := log.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, today.EventID, entries[0].EventID)

	entries, err = log.Query(ctx, Filter{Since: clock.Now().Add(-24 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, yesterday.EventID, entries[1].EventID)

	entries, err = log.Query(ctx, Filter{Since: clock.Now().AddDate(0, 0, -30)})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, old.EventID, entries[2].EventID)

	partitions, err := log.Partitions()
	require.NoError(t, err)
	assert.Equal(t, []string{"20240301", "20240302", "20240303"}, partitions)
}

func TestLog_QueryMissingPartition(t *testing.T) {
	clock := newTestClock()
	log, _ := newFileLog(t, clock)

	entries, err := log.Query(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLog_CorruptPartition(t *testing.T) {
	clock := newTestClock()
	log, engine := newFileLog(t, clock)
	ctx := context.Background()

	path := engine.Path(Partition(clock.Now()))
	require.NoError(t, os.WriteFile(path, []byte("not json\n{\"event_id\":"), 0644))

	entry := log.Append(ctx, Record{IP: "10.0.0.1", Status: OutcomeSuccess})

	entries, err := log.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.EventID, entries[0].EventID)
}

func TestLog_QueryCanceled(t *testing.T) {
	log := New(persistence.NewMemoryEngine(), logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := log.Query(ctx, Filter{})
	assert.ErrorIs(t, err, context.Canceled)
}

type failingEngine struct {
	persistence.Engine
}

func (failingEngine) Append(string, []byte) error { return errors.New("disk full") }

func TestLog_AppendNeverFails(t *testing.T) {
	log := New(failingEngine{persistence.NewMemoryEngine()}, logger.NewNop())

	entry := log.Append(context.Background(), Record{IP: "ip", Status: OutcomeFailed})
	assert.NotEmpty(t, entry.EventID)
}

func TestEntry_Time(t *testing.T) {
	e := Entry{Timestamp: "2024-03-01T10:30:00.123456"}
	parsed, err := e.Time()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 30, 0, 123456000, time.Local), parsed)

	e.Timestamp = "2024-03-01T10:30:00"
	_, err = e.Time()
	assert.NoError(t, err)

	e.Timestamp = "2024-03-01T10:30:00Z"
	_, err = e.Time()
	assert.NoError(t, err)

	e.Timestamp = "yesterday"
	_, err = e.Time()
	assert.Error(t, err)
}
