package walkv

import (
	"fmt"

	"github.com/MikhailWahib/walkv/internal/engine"
	"github.com/MikhailWahib/walkv/internal/record"
)

// Op names a command understood by Exec.
type Op int

const (
	OpPut Op = iota + 1
	OpGet
	OpDelete
	OpSetTTL
	OpSnapshot
	OpList
	OpBegin
	OpCommit
	OpRollback
	OpStats
)

func (op Op) String() string {
	switch op {
	case OpPut:
		return "put"
	case OpGet:
		return "get"
	case OpDelete:
		return "delete"
	case OpSetTTL:
		return "ttl"
	case OpSnapshot:
		return "snapshot"
	case OpList:
		return "list"
	case OpBegin:
		return "begin"
	case OpCommit:
		return "commit"
	case OpRollback:
		return "rollback"
	case OpStats:
		return "stats"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

// Command is one structured operation, as produced by a front end's parser.
type Command struct {
	Op      Op
	Key     string
	Value   string
	Seconds uint64
	// SnapshotPath and WALPath override the configured paths for OpSnapshot.
	SnapshotPath string
	WALPath      string
}

// Result is the outcome of a Command.
//
//	OpPut:    Value is the previous value, Found reports whether there was one.
//	OpGet:    Value and Found.
//	OpDelete: Found reports whether the key existed.
//	OpList:   Pairs.
//	OpStats:  Stats.
type Result struct {
	Value string
	Found bool
	Pairs []Pair
	Stats *Stats
}

// Exec runs a single command under the DB lock.
func (db *DB) Exec(cmd Command) (res Result, err error) {
	err = db.do(func(s *engine.Store) error {
		res, err = db.exec(s, cmd)
		return err
	})
	return
}

// Batch runs cmds in order under one lock acquisition, so no other caller's
// operation interleaves with them. Every key and value is validated before
// the first command runs; an invalid batch changes nothing. Execution stops
// at the first failing command and the results so far are returned.
func (db *DB) Batch(cmds []Command) (results []Result, err error) {
	maxKeyLen := db.cfg.MaxKeyLen
	for i, cmd := range cmds {
		if err := validate(cmd, maxKeyLen); err != nil {
			return nil, fmt.Errorf("batch command %d (%s): %w", i, cmd.Op, err)
		}
	}

	err = db.do(func(s *engine.Store) error {
		results = make([]Result, 0, len(cmds))
		for i, cmd := range cmds {
			res, err := db.exec(s, cmd)
			if err != nil {
				return fmt.Errorf("batch command %d (%s): %w", i, cmd.Op, err)
			}
			results = append(results, res)
		}
		return nil
	})
	return
}

func validate(cmd Command, maxKeyLen int) error {
	switch cmd.Op {
	case OpPut:
		if err := record.ValidateKey(cmd.Key, maxKeyLen); err != nil {
			return err
		}
		return record.ValidateValue(cmd.Value)
	case OpGet, OpDelete, OpSetTTL:
		return record.ValidateKey(cmd.Key, maxKeyLen)
	case OpSnapshot, OpList, OpBegin, OpCommit, OpRollback, OpStats:
		return nil
	default:
		return fmt.Errorf("unknown command %s", cmd.Op)
	}
}

func (db *DB) exec(s *engine.Store, cmd Command) (Result, error) {
	switch cmd.Op {
	case OpPut:
		prev, existed, err := s.Insert(cmd.Key, cmd.Value)
		return Result{Value: prev, Found: existed}, err
	case OpGet:
		v, ok := s.Get(cmd.Key)
		return Result{Value: v, Found: ok}, nil
	case OpDelete:
		existed, err := s.Delete(cmd.Key)
		return Result{Found: existed}, err
	case OpSetTTL:
		return Result{}, s.SetTTL(cmd.Key, cmd.Seconds)
	case OpSnapshot:
		snap, walPath := cmd.SnapshotPath, cmd.WALPath
		if snap == "" {
			snap = db.cfg.SnapshotPath
		}
		if walPath == "" {
			walPath = db.cfg.WALPath
		}
		return Result{}, s.SnapshotAndCompact(snap, walPath)
	case OpList:
		return Result{Pairs: s.Iter()}, nil
	case OpBegin:
		s.BeginTx()
		return Result{}, nil
	case OpCommit:
		return Result{}, s.CommitTx()
	case OpRollback:
		s.RollbackTx()
		return Result{}, nil
	case OpStats:
		st := s.Stats()
		return Result{Stats: &st}, nil
	default:
		return Result{}, fmt.Errorf("unknown command %s", cmd.Op)
	}
}
