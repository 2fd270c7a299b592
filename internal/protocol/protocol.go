// Package protocol parses the text commands accepted by the REPL and the TCP
// server and renders their results.
//
// A request is one line: a command word followed by whitespace separated
// arguments. Command words are case-insensitive. The value of put is the rest
// of the line after the key, so it may contain spaces. Several commands can be
// sent together with batch, separated by semicolons:
//
//	batch put a 1; put b 2; delete c
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MikhailWahib/walkv"
)

var (
	// ErrUnknownCommand is returned for a command word Parse does not know.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrSyntax is returned when a known command has the wrong arguments.
	ErrSyntax = errors.New("syntax error")
)

const batchSeparator = ";"

// Kind says what a Request asks the front end to do.
type Kind int

const (
	// KindEmpty is a blank line.
	KindEmpty Kind = iota
	// KindCommand runs Commands[0].
	KindCommand
	// KindBatch runs Commands under one lock.
	KindBatch
	KindHelp
	KindExit
)

// Request is a parsed line.
type Request struct {
	Kind     Kind
	Commands []walkv.Command
}

// HelpText lists the commands Parse understands.
const HelpText = `Available commands:
put <key> <value>
get <key>
delete <key>
insert <key> <value>
select <key>
remove <key>
ttl <key> <seconds>
batch <command>; <command>; ...
snapshot [<snapshot path> [<wal path>]]
list
begin
commit
rollback
stats
help
exit`

// Parse reads one request line.
func Parse(line string) (Request, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Request{Kind: KindEmpty}, nil
	}

	word, rest := splitWord(line)
	switch strings.ToLower(word) {
	case "help":
		return Request{Kind: KindHelp}, nil
	case "exit", "quit":
		return Request{Kind: KindExit}, nil
	case "batch":
		return parseBatch(rest)
	}

	cmd, err := parseCommand(line)
	if err != nil {
		return Request{}, err
	}
	return Request{Kind: KindCommand, Commands: []walkv.Command{cmd}}, nil
}

func parseBatch(body string) (Request, error) {
	var cmds []walkv.Command
	for i, part := range strings.Split(body, batchSeparator) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		cmd, err := parseCommand(part)
		if err != nil {
			return Request{}, fmt.Errorf("batch command %d: %w", i, err)
		}
		cmds = append(cmds, cmd)
	}
	if len(cmds) == 0 {
		return Request{}, fmt.Errorf("%w: batch needs at least one command", ErrSyntax)
	}
	return Request{Kind: KindBatch, Commands: cmds}, nil
}

func parseCommand(line string) (walkv.Command, error) {
	word, rest := splitWord(line)
	word = strings.ToLower(word)

	switch word {
	case "put", "insert":
		key, value := splitWord(rest)
		if key == "" || value == "" {
			return walkv.Command{}, usage(word, "<key> <value>")
		}
		return walkv.Command{Op: walkv.OpPut, Key: key, Value: value}, nil

	case "get", "select", "delete", "remove":
		args := strings.Fields(rest)
		if len(args) != 1 {
			return walkv.Command{}, usage(word, "<key>")
		}
		op := walkv.OpGet
		if word == "delete" || word == "remove" {
			op = walkv.OpDelete
		}
		return walkv.Command{Op: op, Key: args[0]}, nil

	case "ttl":
		args := strings.Fields(rest)
		if len(args) != 2 {
			return walkv.Command{}, usage(word, "<key> <seconds>")
		}
		secs, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return walkv.Command{}, fmt.Errorf("%w: ttl seconds %q: not a non-negative integer", ErrSyntax, args[1])
		}
		return walkv.Command{Op: walkv.OpSetTTL, Key: args[0], Seconds: secs}, nil

	case "snapshot":
		args := strings.Fields(rest)
		if len(args) > 2 {
			return walkv.Command{}, usage(word, "[<snapshot path> [<wal path>]]")
		}
		cmd := walkv.Command{Op: walkv.OpSnapshot}
		if len(args) > 0 {
			cmd.SnapshotPath = args[0]
		}
		if len(args) > 1 {
			cmd.WALPath = args[1]
		}
		return cmd, nil
	}

	op, ok := bareOps[word]
	if !ok {
		return walkv.Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, word)
	}
	if strings.TrimSpace(rest) != "" {
		return walkv.Command{}, usage(word, "")
	}
	return walkv.Command{Op: op}, nil
}

// bareOps are the commands that take no arguments.
var bareOps = map[string]walkv.Op{
	"list":     walkv.OpList,
	"begin":    walkv.OpBegin,
	"commit":   walkv.OpCommit,
	"rollback": walkv.OpRollback,
	"stats":    walkv.OpStats,
}

func usage(word, args string) error {
	return fmt.Errorf("%w: usage: %s", ErrSyntax, strings.TrimSpace(word+" "+args))
}

// splitWord returns the first whitespace separated word of s and the trimmed rest.
func splitWord(s string) (string, string) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}
