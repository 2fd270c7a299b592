// Package record provides the entry types and line formats shared by the log,
// snapshot and file-backed storage.
package record

// LogDelimiter separates fields of a log line and of a snapshot line.
const LogDelimiter = "|"

// FileDelimiter separates key and value in the file-backed storage dump.
const FileDelimiter = "="

// Tags that open a log line.
const (
	PutTag    = "PUT"
	DeleteTag = "DELETE"
)

// DefaultMaxKeyLen is the longest key accepted when no limit is configured.
const DefaultMaxKeyLen = 255
