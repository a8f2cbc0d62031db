package roster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"
)

// field aliases, compared after normalizeHeader
var (
	nameAliases     = []string{"Name", "Full Name", "Student Name"}
	mgmtNameAliases = []string{"Name", "Full Name"}
	studentIDs      = []string{"Student_Id", "Student ID", "StudentId"}
	mgmtIDs         = []string{"Student_Id", "Student ID", "StudentId", "Mgmt_Id"}
	emailAliases    = []string{"Email_id", "Email id", "Email", "Email ID", "Email Address"}
	courseAliases   = []string{"Course", "Program", "Branch"}
	codeAliases     = []string{"Code", "Workshop", "Event", "Batch"}
	positionAliases = []string{"Position", "Title", "Role"}
)

type columns struct {
	name, id, email, course, code, position []string
}

func columnsFor(kind Kind) columns {
	if kind == KindManagement {
		return columns{
			name:     mgmtNameAliases,
			id:       mgmtIDs,
			email:    emailAliases,
			course:   courseAliases,
			position: positionAliases,
		}
	}
	return columns{
		name:   nameAliases,
		id:     studentIDs,
		email:  emailAliases,
		course: courseAliases,
		code:   codeAliases,
	}
}

// CSV is a roster backed by a CSV export. Parsed rows are cached until the
// file's modification time or size changes.
type CSV struct {
	kind      Kind
	path      string
	fallbacks []string

	mu    sync.Mutex
	cache *snapshot
}

type snapshot struct {
	path    string
	modTime time.Time
	size    int64
	rows    []indexed
}

type indexed struct {
	record  Record
	nameKey string
	idKey   string
}

// NewCSV creates a roster reading path. When path is missing the fallbacks
// are tried in order.
func NewCSV(kind Kind, path string, fallbacks ...string) *CSV {
	return &CSV{
		kind:      kind,
		path:      path,
		fallbacks: fallbacks,
	}
}

// Kind returns the roster kind
func (c *CSV) Kind() Kind {
	return c.kind
}

// Path returns the file that would be read now, or the configured path when
// none exists.
func (c *CSV) Path() string {
	if p, ok := c.resolve(); ok {
		return p
	}
	return c.path
}

// Exists reports whether the roster file or one of its fallbacks exists.
func (c *CSV) Exists() bool {
	_, ok := c.resolve()
	return ok
}

func (c *CSV) resolve() (string, bool) {
	for _, p := range append([]string{c.path}, c.fallbacks...) {
		if p == "" {
			continue
		}
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// All returns every row of the roster.
func (c *CSV) All() ([]Record, error) {
	rows, err := c.load()
	if err != nil {
		return nil, err
	}

	records := make([]Record, len(rows))
	for i, r := range rows {
		records[i] = r.record
	}
	return records, nil
}

// FindByNameAndID returns the first row matching both name and id, or nil.
func (c *CSV) FindByNameAndID(name, id string) (*Record, error) {
	rows, err := c.load()
	if err != nil {
		return nil, err
	}

	nameKey, idKey := NormalizeName(name), NormalizeID(id)
	for _, r := range rows {
		if r.nameKey == nameKey && r.idKey == idKey {
			rec := r.record
			return &rec, nil
		}
	}
	return nil, nil
}

// FindByName returns the first row whose name matches, or nil.
func (c *CSV) FindByName(name string) (*Record, error) {
	rows, err := c.load()
	if err != nil {
		return nil, err
	}

	nameKey := NormalizeName(name)
	for _, r := range rows {
		if r.nameKey == nameKey {
			rec := r.record
			return &rec, nil
		}
	}
	return nil, nil
}

func (c *CSV) load() ([]indexed, error) {
	path, ok := c.resolve()
	if !ok {
		return nil, fmt.Errorf("%w: %s roster not found at %s", ErrStoreUnavailable, c.kind, c.path)
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrStoreUnavailable, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat roster: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if s := c.cache; s != nil && s.path == path && s.modTime.Equal(info.ModTime()) && s.size == info.Size() {
		return s.rows, nil
	}

	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrStoreUnavailable, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open roster: %w", err)
	}
	defer file.Close()

	rows, err := parse(file, columnsFor(c.kind))
	if err != nil {
		return nil, fmt.Errorf("failed to parse roster %s: %w", path, err)
	}

	c.cache = &snapshot{
		path:    path,
		modTime: info.ModTime(),
		size:    info.Size(),
		rows:    rows,
	}
	return rows, nil
}

func parse(r io.Reader, cols columns) ([]indexed, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		key := normalizeHeader(h)
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}

	pick := func(row []string, aliases []string) string {
		for _, alias := range aliases {
			if i, ok := index[normalizeHeader(alias)]; ok && i < len(row) {
				return row[i]
			}
		}
		return ""
	}

	var rows []indexed
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		rec := Record{
			Name:     pick(row, cols.name),
			ID:       pick(row, cols.id),
			Email:    pick(row, cols.email),
			Course:   pick(row, cols.course),
			Code:     pick(row, cols.code),
			Position: pick(row, cols.position),
		}
		rows = append(rows, indexed{
			record:  rec,
			nameKey: NormalizeName(rec.Name),
			idKey:   NormalizeID(rec.ID),
		})
	}
	return rows, nil
}

// normalizeHeader lowercases h and keeps letters, digits and underscores.
func normalizeHeader(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(h)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
