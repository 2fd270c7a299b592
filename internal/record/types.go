package record

import "errors"

var (
	// ErrInvalidKey is returned for a key that cannot be stored.
	ErrInvalidKey = errors.New("invalid key")

	// ErrInvalidValue is returned for a value that would break the line formats.
	ErrInvalidValue = errors.New("invalid value")

	// ErrMalformedLine is returned by the decoders for an unparsable line.
	ErrMalformedLine = errors.New("malformed line")
)

// EntryType represents the kind of mutation a log entry records
type EntryType byte

const (
	// PutEntry indicates a key-value insertion operation
	PutEntry EntryType = iota
	// DeleteEntry indicates a key deletion operation
	DeleteEntry
)

func (t EntryType) String() string {
	switch t {
	case PutEntry:
		return PutTag
	case DeleteEntry:
		return DeleteTag
	default:
		return "UNKNOWN"
	}
}

// Entry is a single logged mutation.
type Entry struct {
	Type  EntryType
	Key   string
	Value string
}

// Put builds a PutEntry.
func Put(key, value string) Entry {
	return Entry{Type: PutEntry, Key: key, Value: value}
}

// Delete builds a DeleteEntry.
func Delete(key string) Entry {
	return Entry{Type: DeleteEntry, Key: key}
}

// Pair is one stored record.
type Pair struct {
	Key   string
	Value string
}
