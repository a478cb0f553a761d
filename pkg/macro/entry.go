// Package macro defines the wire types shared by the scheduler, the workers
// and the HTTP front door: macro entries, task and result messages, and the
// status vocabulary used by worker and macro records.
package macro

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// EntryType tags one atomic UI action.
type EntryType string

const (
	EntryClick           EntryType = "M"
	EntryKey             EntryType = "T"
	EntryMenu            EntryType = "P"
	EntryButtonBar       EntryType = "MAVBTN"
	EntryMenuSelect      EntryType = "MFBTN"
	EntryEscape          EntryType = "MFSCHL"
	EntryGridClick       EntryType = "MATKLCK"
	EntryGridDoubleClick EntryType = "MATDBLKLCK"
	EntryGridHeaderClick EntryType = "MATHEADKLCK"
	EntryAlertDismiss    EntryType = "ALERTSCHL"
	EntrySidePage        EntryType = "MAVSEITE"
)

var entryTypes = map[EntryType]struct{}{
	EntryClick:           {},
	EntryKey:             {},
	EntryMenu:            {},
	EntryButtonBar:       {},
	EntryMenuSelect:      {},
	EntryEscape:          {},
	EntryGridClick:       {},
	EntryGridDoubleClick: {},
	EntryGridHeaderClick: {},
	EntryAlertDismiss:    {},
	EntrySidePage:        {},
}

// ErrInvalidEntry is wrapped by every validation failure of an entry.
var ErrInvalidEntry = errors.New("invalid entry")

// Valid reports whether t is a member of the closed entry type set.
func (t EntryType) Valid() bool {
	_, ok := entryTypes[t]
	return ok
}

// ParseEntryType returns the entry type for raw or an error for unknown tags.
func ParseEntryType(raw string) (EntryType, error) {
	t := EntryType(strings.TrimSpace(raw))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidEntry, raw)
	}
	return t, nil
}

// Entry is one UI action. Key is interpreted according to Type.
type Entry struct {
	Type EntryType `json:"type"`
	Key  string    `json:"key"`
}

// String returns the serialized form of the entry, as stored in entriesJson.
func (e Entry) String() string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return fmt.Sprintf(`{"type":%q,"key":%q}`, e.Type, e.Key)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// Validate checks that the type is known and the key is well-formed for it.
func (e Entry) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEntry, e.Type)
	}
	switch e.Type {
	case EntryClick, EntryKey, EntryMenu, EntryButtonBar:
		if strings.TrimSpace(e.Key) == "" {
			return fmt.Errorf("%w: %s requires a key", ErrInvalidEntry, e.Type)
		}
	case EntryMenuSelect, EntryGridHeaderClick:
		if _, err := ParseIndex(e.Key); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidEntry, e.Type, err)
		}
	case EntrySidePage:
		n, err := ParseIndex(e.Key)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidEntry, e.Type, err)
		}
		if n < 1 {
			return fmt.Errorf("%w: %s: page index is one-based, got %d", ErrInvalidEntry, e.Type, n)
		}
	case EntryGridClick, EntryGridDoubleClick:
		if _, _, err := ParseGridCell(e.Key); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidEntry, e.Type, err)
		}
	}
	return nil
}

// Validate checks a full macro body: at least one entry, each valid.
func Validate(entries []Entry) error {
	if len(entries) == 0 {
		return fmt.Errorf("%w: macro has no entries", ErrInvalidEntry)
	}
	for i, entry := range entries {
		if err := entry.Validate(); err != nil {
			return fmt.Errorf("entry %d: %w", i+1, err)
		}
	}
	return nil
}

// ParseIndex parses a non-negative decimal index.
func ParseIndex(key string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(key))
	if err != nil {
		return 0, fmt.Errorf("index %q is not a number", key)
	}
	if n < 0 {
		return 0, fmt.Errorf("index %d is negative", n)
	}
	return n, nil
}

// ParseGridCell splits a "col^row" key into its zero-based coordinates.
func ParseGridCell(key string) (col, row int, err error) {
	parts := strings.Split(strings.TrimSpace(key), "^")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("grid cell %q must have the form col^row", key)
	}
	if col, err = ParseIndex(parts[0]); err != nil {
		return 0, 0, fmt.Errorf("grid column: %w", err)
	}
	if row, err = ParseIndex(parts[1]); err != nil {
		return 0, 0, fmt.Errorf("grid row: %w", err)
	}
	return col, row, nil
}

// EncodeEntries serializes entries for the macro record.
func EncodeEntries(entries []Entry) (string, error) {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("encode entries: %w", err)
	}
	return string(data), nil
}

// DecodeEntries is the inverse of EncodeEntries.
func DecodeEntries(raw string) ([]Entry, error) {
	if strings.TrimSpace(raw) == "" {
		return []Entry{}, nil
	}
	var entries []Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}
	return entries, nil
}
