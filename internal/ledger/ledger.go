package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/kestrelhq/keel/internal/storage/pebble"
)

// ErrCorruptEntry is returned when a stored entry fails its checksum.
var ErrCorruptEntry = errors.New("ledger: corrupt entry")

// Entry is one step-execution event in a work order's ledger. Details is an
// opaque payload the scheduler attaches (step output refs, failure context).
type Entry struct {
	Seq          uint64          `json:"seq,omitempty"`
	StepID       string          `json:"step_id"`
	AttemptIndex int             `json:"attempt_index"`
	Event        string          `json:"event"`
	RecordedAtNs int64           `json:"recorded_at_ns"`
	Details      json.RawMessage `json:"details,omitempty"`
}

// Ledger stores append-only per-(tenant, work order) step event streams.
// A new lease holder taking over a work order reads the stream to find the
// last completed step before resuming.
type Ledger struct {
	db *pebblestore.DB
	mu sync.Mutex
}

// Open initializes a Ledger over the given store.
func Open(db *pebblestore.DB) *Ledger {
	return &Ledger{db: db}
}

// Append writes the entries as one atomic batch and returns their assigned
// sequence numbers (1-based, contiguous per stream).
func (l *Ledger) Append(ctx context.Context, tenant, workOrder string, entries []Entry) ([]uint64, error) {
	if tenant == "" || workOrder == "" {
		return nil, errors.New("ledger: tenant and workOrder are required")
	}
	if len(entries) == 0 {
		return nil, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lastSeq, err := l.lastSeq(tenant, workOrder)
	if err != nil {
		return nil, err
	}

	b := l.db.NewBatch()
	defer b.Close()

	seqs := make([]uint64, len(entries))
	for i, e := range entries {
		lastSeq++
		e.Seq = 0 // assigned from the key, not the body
		header, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("ledger: encode entry: %w", err)
		}
		val := encodeRecord(header, nil)
		if err := b.Set(entryKey(tenant, workOrder, lastSeq), val, nil); err != nil {
			return nil, err
		}
		seqs[i] = lastSeq
	}

	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], lastSeq)
	if err := b.Set(metaKey(tenant, workOrder), meta[:], nil); err != nil {
		return nil, err
	}

	if err := l.db.CommitBatch(ctx, b); err != nil {
		return nil, err
	}
	return seqs, nil
}

// Read returns up to limit entries with seq >= fromSeq, in sequence order.
// fromSeq 0 reads from the start; limit <= 0 means no limit.
func (l *Ledger) Read(tenant, workOrder string, fromSeq uint64, limit int) ([]Entry, error) {
	if fromSeq == 0 {
		fromSeq = 1
	}
	lo, hi := entryRange(tenant, workOrder, fromSeq)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Entry
	for ok := iter.First(); ok; ok = iter.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		seq, valid := seqFromEntryKey(iter.Key())
		if !valid {
			continue
		}
		header, _, decoded := decodeRecord(iter.Value())
		if !decoded {
			return nil, fmt.Errorf("%w: seq %d", ErrCorruptEntry, seq)
		}
		var e Entry
		if err := json.Unmarshal(header, &e); err != nil {
			return nil, fmt.Errorf("ledger: decode entry %d: %w", seq, err)
		}
		e.Seq = seq
		out = append(out, e)
	}
	return out, nil
}

// LastSeq returns the highest assigned sequence for the stream, 0 if empty.
func (l *Ledger) LastSeq(tenant, workOrder string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq(tenant, workOrder)
}

func (l *Ledger) lastSeq(tenant, workOrder string) (uint64, error) {
	meta, err := l.db.Get(metaKey(tenant, workOrder))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if len(meta) < 8 {
		return 0, nil
	}
	return binary.BigEndian.Uint64(meta[:8]), nil
}
