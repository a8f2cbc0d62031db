package persistence

import (
	"errors"
	"fmt"
)

// Engine stores opaque records in append-only, day-named partitions.
type Engine interface {
	// Append adds record to the end of partition, creating it if needed.
	Append(partition string, record []byte) error
	// Read returns the records of partition in append order. A partition that
	// does not exist yields no records and no error.
	Read(partition string) ([][]byte, error)
	// Partitions lists stored partitions in ascending order.
	Partitions() ([]string, error)
	Close() error
}

// Config holds persistence configuration
type Config struct {
	Type       string // "file", "badger", "memory"
	DataDir    string
	FilePrefix string
	SyncWrites bool
}

// ErrInvalidPartition is returned for partition names other than YYYYMMDD.
var ErrInvalidPartition = errors.New("invalid partition name")

// PartitionLayout is the time layout of partition names.
const PartitionLayout = "20060102"

// ValidatePartition checks that p is an eight digit day name.
func ValidatePartition(p string) error {
	if len(p) != len(PartitionLayout) {
		return fmt.Errorf("%w: %q", ErrInvalidPartition, p)
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: %q", ErrInvalidPartition, p)
		}
	}
	return nil
}
