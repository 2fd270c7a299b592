package record

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// EncodeLogLine formats an entry as a newline-terminated log line.
// Format: PUT|<key>|<value> or DELETE|<key>
func EncodeLogLine(e Entry) string {
	if e.Type == DeleteEntry {
		return DeleteTag + LogDelimiter + e.Key + "\n"
	}
	return PutTag + LogDelimiter + e.Key + LogDelimiter + e.Value + "\n"
}

// DecodeLogLine parses a log line without its line terminator.
// The value of a PUT is everything after the second delimiter.
func DecodeLogLine(line string) (Entry, error) {
	parts := strings.SplitN(line, LogDelimiter, 3)
	switch {
	case len(parts) == 3 && parts[0] == PutTag && parts[1] != "":
		return Put(parts[1], parts[2]), nil
	case len(parts) == 2 && parts[0] == DeleteTag && parts[1] != "":
		return Delete(parts[1]), nil
	default:
		return Entry{}, fmt.Errorf("%w: %q", ErrMalformedLine, line)
	}
}

// EncodeSnapshotLine formats a pair as <key>|<value>.
func EncodeSnapshotLine(p Pair) string {
	return p.Key + LogDelimiter + p.Value + "\n"
}

// DecodeSnapshotLine parses a snapshot line without its line terminator.
func DecodeSnapshotLine(line string) (Pair, error) {
	return splitPair(line, LogDelimiter)
}

// EncodeFileLine formats a pair as <key>=<value>.
func EncodeFileLine(p Pair) string {
	return p.Key + FileDelimiter + p.Value + "\n"
}

// DecodeFileLine parses a file-backed storage line without its line terminator.
func DecodeFileLine(line string) (Pair, error) {
	return splitPair(line, FileDelimiter)
}

func splitPair(line, delim string) (Pair, error) {
	key, value, ok := strings.Cut(line, delim)
	if !ok || key == "" {
		return Pair{}, fmt.Errorf("%w: %q", ErrMalformedLine, line)
	}
	return Pair{Key: key, Value: value}, nil
}

// ValidateKey rejects keys that are empty, longer than maxLen bytes, or that
// contain a delimiter or line break. A maxLen of zero uses DefaultMaxKeyLen.
func ValidateKey(key string, maxLen int) error {
	if maxLen <= 0 {
		maxLen = DefaultMaxKeyLen
	}
	switch {
	case key == "":
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	case len(key) > maxLen:
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrInvalidKey, len(key), maxLen)
	case strings.ContainsAny(key, LogDelimiter+FileDelimiter+"\r\n"):
		return fmt.Errorf("%w: %q contains a reserved character", ErrInvalidKey, key)
	}
	return nil
}

// ValidateValue rejects values containing line breaks. Empty values are allowed.
func ValidateValue(value string) error {
	if strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("%w: contains a line break", ErrInvalidValue)
	}
	return nil
}

// Line is one line read by ScanLines.
type Line struct {
	// Number is 1-based.
	Number int
	Text   string
	// Torn is set on a final line with no terminator, the shape a write
	// interrupted by a crash leaves behind.
	Torn bool
}

// ScanLines reads r line by line and calls fn for every non-blank line.
// Line terminators, including a trailing carriage return, are stripped.
func ScanLines(r io.Reader, fn func(Line) error) error {
	br := bufio.NewReader(r)
	n := 0
	for {
		text, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return err
		}
		if text == "" && err == io.EOF {
			return nil
		}
		n++

		torn := !strings.HasSuffix(text, "\n")
		text = strings.TrimSuffix(text, "\n")
		text = strings.TrimSuffix(text, "\r")

		if strings.TrimSpace(text) != "" {
			if ferr := fn(Line{Number: n, Text: text, Torn: torn}); ferr != nil {
				return ferr
			}
		}

		if err == io.EOF {
			return nil
		}
	}
}

// Apply replays an entry into m: a put overwrites, a delete removes the key if present.
func Apply(m map[string]string, e Entry) {
	switch e.Type {
	case PutEntry:
		m[e.Key] = e.Value
	case DeleteEntry:
		delete(m, e.Key)
	}
}
