package audit

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/neogan74/certdesk/internal/logger"
	"github.com/neogan74/certdesk/internal/metrics"
	"github.com/neogan74/certdesk/internal/persistence"
)

// Log is the append-only audit log, partitioned by local calendar day.
type Log struct {
	engine persistence.Engine
	log    logger.Logger
	sink   string
	now    func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithClock replaces time.Now for timestamps and partition selection.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// WithSinkName sets the sink label used in metrics.
func WithSinkName(name string) Option {
	return func(l *Log) { l.sink = name }
}

// New builds an audit log on top of engine.
func New(engine persistence.Engine, log logger.Logger, opts ...Option) *Log {
	if log == nil {
		log = logger.GetDefault()
	}
	l := &Log{
		engine: engine,
		log:    log,
		sink:   "default",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Partition returns the partition name of t in local time.
func Partition(t time.Time) string {
	return t.In(time.Local).Format(persistence.PartitionLayout)
}

// Append stamps rec and writes it to today's partition. Write failures are
// logged and counted but never returned.
func (l *Log) Append(ctx context.Context, rec Record) Entry {
	now := l.now().In(time.Local)
	entry := Entry{
		EventID:   uuid.NewString(),
		Timestamp: now.Format(TimestampLayout),
		IPAddress: rec.IP,
		Endpoint:  rec.Endpoint,
		Name:      rec.Name,
		ID:        rec.ID,
		Status:    rec.Status,
		Reason:    rec.Reason,
	}

	data, err := json.Marshal(entry)
	if err == nil {
		err = l.engine.Append(Partition(now), data)
	}
	if err != nil {
		metrics.AuditEntriesTotal.WithLabelValues(l.sink, "failed").Inc()
		l.log.Error("Failed to write audit entry",
			logger.String("event_id", entry.EventID),
			logger.ClientIP(entry.IPAddress),
			logger.Action(entry.Endpoint),
			logger.Error(err))
		return entry
	}

	metrics.AuditEntriesTotal.WithLabelValues(l.sink, "written").Inc()
	return entry
}

// Query returns entries most recent first. Entries with equal timestamps keep
// reverse append order. Unreadable partitions and records are skipped.
func (l *Log) Query(ctx context.Context, f Filter) ([]Entry, error) {
	partitions := l.partitionsSince(f.Since)

	var found []timedEntry
	for _, p := range partitions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := l.engine.Read(p)
		if err != nil {
			metrics.AuditReadErrorsTotal.WithLabelValues("partition").Inc()
			l.log.Warn("Failed to read audit partition",
				logger.String("partition", p),
				logger.Error(err))
			continue
		}
		for _, r := range records {
			var e Entry
			if err := json.Unmarshal(r, &e); err != nil {
				metrics.AuditReadErrorsTotal.WithLabelValues("record").Inc()
				continue
			}
			if f.IP != "" && e.IPAddress != f.IP {
				continue
			}
			t, _ := e.Time()
			found = append(found, timedEntry{entry: e, at: t})
		}
	}

	// newest append first, then order by time
	for i, j := 0, len(found)-1; i < j; i, j = i+1, j-1 {
		found[i], found[j] = found[j], found[i]
	}
	sort.SliceStable(found, func(i, j int) bool {
		return found[i].at.After(found[j].at)
	})

	limit := f.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}

	entries := make([]Entry, len(found))
	for i := range found {
		entries[i] = found[i].entry
	}
	return entries, nil
}

type timedEntry struct {
	entry Entry
	at    time.Time
}

// partitionsSince lists the partitions between since's day and today.
func (l *Log) partitionsSince(since time.Time) []string {
	today := Partition(l.now())
	if since.IsZero() {
		return []string{today}
	}

	first := Partition(since)
	if first >= today {
		return []string{today}
	}

	all, err := l.engine.Partitions()
	if err != nil {
		metrics.AuditReadErrorsTotal.WithLabelValues("partition").Inc()
		l.log.Warn("Failed to list audit partitions", logger.Error(err))
		return []string{today}
	}

	var selected []string
	for _, p := range all {
		if p >= first && p <= today {
			selected = append(selected, p)
		}
	}
	if len(selected) == 0 || selected[len(selected)-1] != today {
		selected = append(selected, today)
	}
	return selected
}

// Partitions lists the stored day partitions in ascending order.
func (l *Log) Partitions() ([]string, error) {
	return l.engine.Partitions()
}

// Close releases the underlying engine.
func (l *Log) Close() error {
	return l.engine.Close()
}
