package audit

import (
	"time"
)

// Outcome is the status recorded for an admission attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// TimestampLayout is the local-time layout entries are written with.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// Entry is one stored audit record. Timestamp keeps the raw string found on
// disk so entries written by other tools survive a round trip.
type Entry struct {
	EventID   string  `json:"event_id"`
	Timestamp string  `json:"timestamp"`
	IPAddress string  `json:"ip_address"`
	Endpoint  string  `json:"endpoint"`
	Name      string  `json:"name"`
	ID        string  `json:"id"`
	Status    Outcome `json:"status"`
	Reason    string  `json:"reason"`
}

// Time parses the entry timestamp in the local time zone. Fractional seconds
// are optional and RFC 3339 timestamps with an offset are accepted too.
func (e Entry) Time() (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02T15:04:05", e.Timestamp, time.Local)
	if err == nil {
		return t, nil
	}
	if t, rfcErr := time.Parse(time.RFC3339Nano, e.Timestamp); rfcErr == nil {
		return t, nil
	}
	return time.Time{}, err
}

// Record is what callers supply. The log adds the id and timestamp.
type Record struct {
	IP       string
	Endpoint string
	Name     string
	ID       string
	Status   Outcome
	Reason   string
}

// Filter narrows a Query.
type Filter struct {
	// IP keeps only entries from this address when set.
	IP string
	// Limit caps the result. Zero means DefaultLimit, negative means no cap.
	Limit int
	// Since selects the first day partition to read. Zero means today only.
	Since time.Time
}

// DefaultLimit is the Query cap when Filter.Limit is zero.
const DefaultLimit = 100
