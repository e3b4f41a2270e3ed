package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	pebblestore "github.com/kestrelhq/keel/internal/storage/pebble"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return Open(db)
}

func TestAppendAssignsContiguousSeqs(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	seqs, err := l.Append(ctx, "t1", "wo-1", []Entry{
		{StepID: "fetch", AttemptIndex: 0, Event: "step_started", RecordedAtNs: 100},
		{StepID: "fetch", AttemptIndex: 0, Event: "step_completed", RecordedAtNs: 200},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 2 {
		t.Fatalf("seqs = %v, want [1 2]", seqs)
	}

	seqs, err = l.Append(ctx, "t1", "wo-1", []Entry{
		{StepID: "transform", AttemptIndex: 0, Event: "step_started", RecordedAtNs: 300},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(seqs) != 1 || seqs[0] != 3 {
		t.Fatalf("seqs = %v, want [3]", seqs)
	}

	last, err := l.LastSeq("t1", "wo-1")
	if err != nil {
		t.Fatalf("last seq: %v", err)
	}
	if last != 3 {
		t.Fatalf("last seq = %d, want 3", last)
	}
}

func TestReadRoundTripAndRange(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	details, _ := json.Marshal(map[string]string{"output_ref": "blob://x"})
	entries := []Entry{
		{StepID: "a", AttemptIndex: 0, Event: "step_started", RecordedAtNs: 1},
		{StepID: "a", AttemptIndex: 0, Event: "step_completed", RecordedAtNs: 2, Details: details},
		{StepID: "b", AttemptIndex: 1, Event: "step_failed", RecordedAtNs: 3},
	}
	if _, err := l.Append(ctx, "t1", "wo-1", entries); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := l.Read("t1", "wo-1", 0, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("read %d entries, want 3", len(got))
	}
	if got[1].StepID != "a" || got[1].Event != "step_completed" || string(got[1].Details) != string(details) {
		t.Fatalf("entry 2 = %+v", got[1])
	}
	if got[2].Seq != 3 || got[2].AttemptIndex != 1 {
		t.Fatalf("entry 3 = %+v", got[2])
	}

	tail, err := l.Read("t1", "wo-1", 2, 1)
	if err != nil {
		t.Fatalf("read range: %v", err)
	}
	if len(tail) != 1 || tail[0].Seq != 2 {
		t.Fatalf("range read = %+v", tail)
	}
}

func TestStreamsAreIsolated(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	if _, err := l.Append(ctx, "t1", "wo-1", []Entry{{StepID: "a", Event: "step_started"}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := l.Append(ctx, "t1", "wo-2", []Entry{{StepID: "b", Event: "step_started"}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := l.Append(ctx, "t2", "wo-1", []Entry{{StepID: "c", Event: "step_started"}}); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := l.Read("t1", "wo-1", 0, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 || got[0].StepID != "a" {
		t.Fatalf("stream t1/wo-1 = %+v", got)
	}

	empty, err := l.Read("t1", "wo-3", 0, 0)
	if err != nil {
		t.Fatalf("read empty: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("empty stream returned %d entries", len(empty))
	}
}

func TestRecordChecksumDetectsCorruption(t *testing.T) {
	header := []byte(`{"step_id":"a"}`)
	encoded := encodeRecord(header, nil)

	if _, _, ok := decodeRecord(encoded); !ok {
		t.Fatal("decode of intact record failed")
	}

	flipped := append([]byte(nil), encoded...)
	flipped[len(flipped)/2] ^= 0x01
	if _, _, ok := decodeRecord(flipped); ok {
		t.Fatal("decode accepted corrupted record")
	}

	if _, _, ok := decodeRecord(encoded[:3]); ok {
		t.Fatal("decode accepted truncated record")
	}
}

func TestReadSurfacesCorruptEntry(t *testing.T) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	defer db.Close()
	l := Open(db)
	ctx := context.Background()

	if _, err := l.Append(ctx, "t1", "wo-1", []Entry{{StepID: "a", Event: "step_started"}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	// overwrite the stored row with garbage
	if err := db.Set(entryKey("t1", "wo-1", 1), []byte("garbage")); err != nil {
		t.Fatalf("set: %v", err)
	}

	if _, err := l.Read("t1", "wo-1", 0, 0); !errors.Is(err, ErrCorruptEntry) {
		t.Fatalf("read over garbage: %v", err)
	}
}
