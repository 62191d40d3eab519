package features

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"fraudscore/internal/common"
)

const unknownCategory = common.UnknownCategory

// Encoder maps category strings to integer codes. Codes are positions in the
// lexically sorted set of values seen at fit time; anything else gets the
// reserved unseen code, one past the last fitted class.
type Encoder struct {
	classes []string
	index   map[string]int
}

// FitEncoder builds an Encoder from observed values. Empty values are fitted
// as the Unknown category.
func FitEncoder(values []string) *Encoder {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		seen[categorical(v)] = struct{}{}
	}
	classes := make([]string, 0, len(seen))
	for v := range seen {
		classes = append(classes, v)
	}
	sort.Strings(classes)
	return newEncoder(classes)
}

func newEncoder(classes []string) *Encoder {
	e := &Encoder{
		classes: classes,
		index:   make(map[string]int, len(classes)),
	}
	for i, c := range classes {
		e.index[c] = i
	}
	return e
}

// Code returns the code for v. The second result is false for unseen values.
func (e *Encoder) Code(v string) (int, bool) {
	if i, ok := e.index[categorical(v)]; ok {
		return i, true
	}
	return e.UnseenCode(), false
}

// UnseenCode is the code reserved for values not present at fit time.
func (e *Encoder) UnseenCode() int {
	return len(e.classes)
}

// Classes returns a copy of the fitted classes in code order.
func (e *Encoder) Classes() []string {
	out := make([]string, len(e.classes))
	copy(out, e.classes)
	return out
}

// EncoderTable holds the encoders for every categorical column. It is fitted
// once with the training data and reused unchanged at inference.
type EncoderTable struct {
	TransactionType *Encoder
	City            *Encoder
}

type encoderTableFile struct {
	TransactionType []string `json:"transaction_type"`
	City            []string `json:"city"`
}

// MarshalJSON writes the table as sorted class lists.
func (t *EncoderTable) MarshalJSON() ([]byte, error) {
	return json.Marshal(encoderTableFile{
		TransactionType: t.TransactionType.classes,
		City:            t.City.classes,
	})
}

// UnmarshalJSON reads a table written by MarshalJSON. Both class lists must
// be present, non-empty, sorted and free of duplicates so codes stay
// identical to the fitted ones.
func (t *EncoderTable) UnmarshalJSON(data []byte) error {
	var f encoderTableFile
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	for _, col := range []struct {
		name    string
		classes []string
	}{
		{"transaction_type", f.TransactionType},
		{"city", f.City},
	} {
		if err := checkClasses(col.classes); err != nil {
			return fmt.Errorf("%s: %w", col.name, err)
		}
	}
	t.TransactionType = newEncoder(f.TransactionType)
	t.City = newEncoder(f.City)
	return nil
}

func checkClasses(classes []string) error {
	if len(classes) == 0 {
		return errors.New("class list is missing or empty")
	}
	for i := 1; i < len(classes); i++ {
		if classes[i-1] >= classes[i] {
			return fmt.Errorf("classes not strictly sorted at %d (%q, %q)", i, classes[i-1], classes[i])
		}
	}
	return nil
}

// LoadEncoderTable reads an encoder table from disk.
func LoadEncoderTable(path string) (*EncoderTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read encoder table %s: %w", path, err)
	}
	var t EncoderTable
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse encoder table %s: %w", path, err)
	}
	return &t, nil
}

// Save writes the table to path, creating parent directories.
func (t *EncoderTable) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
