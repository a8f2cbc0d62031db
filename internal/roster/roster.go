package roster

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Kind selects which roster a record belongs to.
type Kind string

const (
	KindStudent    Kind = "student"
	KindManagement Kind = "management"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindStudent || k == KindManagement
}

// ErrStoreUnavailable is returned when the roster file cannot be found.
var ErrStoreUnavailable = errors.New("roster unavailable")

// Record is a canonical roster row. ID holds the student or management id.
type Record struct {
	Name     string `json:"name"`
	ID       string `json:"id"`
	Email    string `json:"email,omitempty"`
	Course   string `json:"course,omitempty"`
	Code     string `json:"code,omitempty"`
	Position string `json:"position,omitempty"`
}

// Lookup is implemented by every roster backend.
type Lookup interface {
	FindByNameAndID(name, id string) (*Record, error)
	FindByName(name string) (*Record, error)
	All() ([]Record, error)
}

// NormalizeName folds case, composes unicode and collapses whitespace so
// that names typed by people compare equal to the roster's spelling.
func NormalizeName(s string) string {
	s = norm.NFC.String(s)
	s = strings.Join(strings.Fields(s), " ")
	return cases.Fold().String(s)
}

// NormalizeID trims surrounding whitespace only. IDs stay case sensitive.
func NormalizeID(s string) string {
	return strings.TrimSpace(s)
}

// CertificateID derives the certificate file name of rec. Letters, digits and
// spaces of the name are kept and spaces become underscores. When nothing is
// left the id is used as "<prefix>-<id>".
func CertificateID(rec Record, prefix string) string {
	var b strings.Builder
	for _, r := range rec.Name {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || r == ' ' {
			b.WriteRune(r)
		}
	}

	if sanitized := strings.TrimSpace(b.String()); sanitized != "" {
		return strings.ReplaceAll(sanitized, " ", "_")
	}
	return prefix + "-" + rec.ID
}
