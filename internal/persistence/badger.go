package persistence

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/neogan74/certdesk/internal/logger"
)

const auditPrefix = "audit/"

// BadgerEngine implements Engine using BadgerDB. Records are keyed by
// partition, append time and a sequence number so iteration is append order.
type BadgerEngine struct {
	db   *badger.DB
	log  logger.Logger
	stop chan struct{}
	done chan struct{}

	mu   sync.Mutex
	seq  uint64
	last int64
}

// NewBadgerEngine creates a new BadgerDB persistence engine
func NewBadgerEngine(dataDir string, syncWrites bool, log logger.Logger) (*BadgerEngine, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	opts := badger.DefaultOptions(dataDir)
	opts.SyncWrites = syncWrites
	opts.Logger = nil
	opts.ValueLogFileSize = 16 << 20
	opts.MemTableSize = 16 << 20

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	engine := &BadgerEngine{
		db:   db,
		log:  log,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go engine.runGarbageCollection(5 * time.Minute)

	log.Info("BadgerDB audit engine initialized",
		logger.String("data_dir", dataDir),
		logger.Bool("sync_writes", syncWrites))

	return engine, nil
}

func (b *BadgerEngine) runGarbageCollection(interval time.Duration) {
	defer close(b.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				b.log.Warn("BadgerDB garbage collection failed", logger.Error(err))
			}
		}
	}
}

// nextKey builds a key that sorts after every key handed out before it.
func (b *BadgerEngine) nextKey(partition string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now().UnixNano()
	if now <= b.last {
		now = b.last
	}
	if now == b.last {
		b.seq++
	} else {
		b.seq = 0
	}
	b.last = now

	return []byte(fmt.Sprintf("%s%s/%020d-%06d", auditPrefix, partition, now, b.seq))
}

func (b *BadgerEngine) Append(partition string, record []byte) error {
	if err := ValidatePartition(partition); err != nil {
		return err
	}

	key := b.nextKey(partition)
	value := append([]byte(nil), record...)
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (b *BadgerEngine) Read(partition string) ([][]byte, error) {
	if err := ValidatePartition(partition); err != nil {
		return nil, err
	}

	var records [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(auditPrefix + partition + "/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			records = append(records, value)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read partition %s: %w", partition, err)
	}
	return records, nil
}

func (b *BadgerEngine) Partitions() ([]string, error) {
	var names []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(auditPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); {
			key := strings.TrimPrefix(string(it.Item().Key()), auditPrefix)
			day, _, _ := strings.Cut(key, "/")
			names = append(names, day)
			// skip the rest of this day
			it.Seek([]byte(auditPrefix + day + "0"))
		}
		return nil
	})
	return names, err
}

func (b *BadgerEngine) Close() error {
	close(b.stop)
	<-b.done
	return b.db.Close()
}
