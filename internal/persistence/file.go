package persistence

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/neogan74/certdesk/internal/logger"
)

const (
	fileExt = ".jsonl"
	// legacyExt files hold a single JSON array per day and are read only.
	legacyExt = ".json"
)

// FileEngine implements Engine with one JSON Lines file per partition.
type FileEngine struct {
	dir        string
	prefix     string
	syncWrites bool
	log        logger.Logger

	mu    sync.Mutex
	locks map[string]*partitionLock
}

type partitionLock struct {
	mu sync.Mutex
	// checked is set once the tail of the file has been inspected.
	checked bool
}

// NewFileEngine creates a file backed engine rooted at dir.
func NewFileEngine(dir, prefix string, syncWrites bool, log logger.Logger) (*FileEngine, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	if prefix == "" {
		prefix = "audit"
	}

	return &FileEngine{
		dir:        dir,
		prefix:     prefix,
		syncWrites: syncWrites,
		log:        log,
		locks:      make(map[string]*partitionLock),
	}, nil
}

// Path returns the JSON Lines file of partition.
func (f *FileEngine) Path(partition string) string {
	return filepath.Join(f.dir, f.prefix+"_"+partition+fileExt)
}

func (f *FileEngine) legacyPath(partition string) string {
	return filepath.Join(f.dir, f.prefix+"_"+partition+legacyExt)
}

func (f *FileEngine) lock(partition string) *partitionLock {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.locks[partition]
	if !ok {
		l = &partitionLock{}
		f.locks[partition] = l
	}
	return l
}

func (f *FileEngine) Append(partition string, record []byte) error {
	if err := ValidatePartition(partition); err != nil {
		return err
	}
	if bytes.ContainsAny(record, "\r\n") {
		return errors.New("record must not contain line breaks")
	}

	l := f.lock(partition)
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(f.Path(partition), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open partition %s: %w", partition, err)
	}
	defer file.Close()

	buf := make([]byte, 0, len(record)+2)
	if !l.checked {
		torn, err := endsWithoutNewline(file)
		if err != nil {
			return fmt.Errorf("failed to inspect partition %s: %w", partition, err)
		}
		if torn {
			f.log.Warn("Audit partition has a torn last line, terminating it",
				logger.String("partition", partition))
			buf = append(buf, '\n')
		}
		l.checked = true
	}
	buf = append(buf, record...)
	buf = append(buf, '\n')

	if _, err := file.Write(buf); err != nil {
		// the tail may be torn now
		l.checked = false
		return fmt.Errorf("failed to append to partition %s: %w", partition, err)
	}
	if f.syncWrites {
		if err := file.Sync(); err != nil {
			return fmt.Errorf("failed to sync partition %s: %w", partition, err)
		}
	}
	return nil
}

func endsWithoutNewline(file *os.File) (bool, error) {
	info, err := file.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return false, nil
	}

	last := make([]byte, 1)
	if _, err := file.ReadAt(last, info.Size()-1); err != nil {
		return false, err
	}
	return last[0] != '\n', nil
}

func (f *FileEngine) Read(partition string) ([][]byte, error) {
	if err := ValidatePartition(partition); err != nil {
		return nil, err
	}

	records, err := f.readLegacy(partition)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(f.Path(partition))
	if errors.Is(err, fs.ErrNotExist) {
		return records, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open partition %s: %w", partition, err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			records = append(records, trimmed)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read partition %s: %w", partition, err)
		}
	}
	return records, nil
}

// readLegacy returns the elements of a day file written as one JSON array.
func (f *FileEngine) readLegacy(partition string) ([][]byte, error) {
	data, err := os.ReadFile(f.legacyPath(partition))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read legacy partition %s: %w", partition, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		f.log.Warn("Skipping unreadable legacy audit file",
			logger.String("partition", partition),
			logger.Error(err))
		return nil, nil
	}

	records := make([][]byte, 0, len(raw))
	for _, r := range raw {
		records = append(records, []byte(r))
	}
	return records, nil
}

func (f *FileEngine) Partitions() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit directory: %w", err)
	}

	seen := make(map[string]bool)
	prefix := f.prefix + "_"
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		name = strings.TrimPrefix(name, prefix)
		switch {
		case strings.HasSuffix(name, fileExt):
			name = strings.TrimSuffix(name, fileExt)
		case strings.HasSuffix(name, legacyExt):
			name = strings.TrimSuffix(name, legacyExt)
		default:
			continue
		}
		if ValidatePartition(name) == nil {
			seen[name] = true
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *FileEngine) Close() error {
	return nil
}
