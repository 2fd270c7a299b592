package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MikhailWahib/walkv"
)

const (
	replyOK       = "ok"
	replyNotFound = "(key not found)"
	replyDeleted  = "deleted"
	replyEmpty    = "(empty)"
)

// Format renders the result of cmd. List results span one line per record;
// every other reply is a single line.
func Format(cmd walkv.Command, res walkv.Result) string {
	switch cmd.Op {
	case walkv.OpPut:
		return replyOK
	case walkv.OpGet:
		if !res.Found {
			return replyNotFound
		}
		return res.Value
	case walkv.OpDelete:
		if !res.Found {
			return replyNotFound
		}
		return replyDeleted
	case walkv.OpSetTTL:
		return fmt.Sprintf("TTL set for '%s' to %d seconds", cmd.Key, cmd.Seconds)
	case walkv.OpSnapshot:
		return "Snapshot and compaction complete."
	case walkv.OpList:
		return formatPairs(res.Pairs)
	case walkv.OpBegin:
		return "transaction started"
	case walkv.OpCommit:
		return "committed"
	case walkv.OpRollback:
		return "rolled back"
	case walkv.OpStats:
		if res.Stats == nil {
			return replyEmpty
		}
		return formatStats(res.Stats)
	default:
		return replyOK
	}
}

// FormatBatch renders the outcome of a batch.
func FormatBatch(results []walkv.Result) string {
	return fmt.Sprintf("Batch executed (%d commands)", len(results))
}

// FormatError renders err as a reply.
func FormatError(err error) string {
	if errors.Is(err, ErrUnknownCommand) {
		return "Unknown command. Type 'help' for commands."
	}
	return "error: " + err.Error()
}

func formatPairs(pairs []walkv.Pair) string {
	if len(pairs) == 0 {
		return replyEmpty
	}
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s = %s", p.Key, p.Value)
	}
	return b.String()
}

func formatStats(st *walkv.Stats) string {
	return fmt.Sprintf("backend=%s keys=%d expiring=%d in_tx=%t pending=%d wal_size=%d appends=%d skipped=%d avg_append=%s",
		st.Backend, st.Keys, st.Expiring, st.InTx, st.Pending,
		st.WAL.Size, st.WAL.Appends, st.WAL.Skipped, st.WAL.AvgAppendLatency)
}
