package protocol

import (
	"github.com/MikhailWahib/walkv"
)

// Handle parses line, runs it against db and returns the reply. quit is true
// when the client asked to end the session; the reply is then empty.
func Handle(db *walkv.DB, line string) (reply string, quit bool) {
	req, err := Parse(line)
	if err != nil {
		return FormatError(err), false
	}

	switch req.Kind {
	case KindEmpty:
		return "", false
	case KindHelp:
		return HelpText, false
	case KindExit:
		return "", true
	case KindBatch:
		results, err := db.Batch(req.Commands)
		if err != nil {
			return FormatError(err), false
		}
		return FormatBatch(results), false
	default:
		cmd := req.Commands[0]
		res, err := db.Exec(cmd)
		if err != nil {
			return FormatError(err), false
		}
		return Format(cmd, res), false
	}
}
