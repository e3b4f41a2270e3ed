package syncqueue

import (
	"encoding/binary"

	"github.com/kestrelhq/keel/pkg/id"
)

// Keyspace (byte-wise, lexicographically sortable):
//
//	sq/item/{id16}                 - sync job row (JSON)
//	sq/ready/{id16}                - ready index (Queued rows, enqueue order)
//	sq/lease/{expires_ms_be8}/{id16} - in-flight index ordered by lease expiry
//	sq/meta                        - state counters (4x uint64 BE)
const (
	prefixItem  = "sq/item/"
	prefixReady = "sq/ready/"
	prefixLease = "sq/lease/"
	metaKeyStr  = "sq/meta"
)

func itemKey(jobID id.ID) []byte {
	k := make([]byte, 0, len(prefixItem)+16)
	k = append(k, prefixItem...)
	k = append(k, jobID[:]...)
	return k
}

func readyKey(jobID id.ID) []byte {
	k := make([]byte, 0, len(prefixReady)+16)
	k = append(k, prefixReady...)
	k = append(k, jobID[:]...)
	return k
}

func leaseKey(expiresMs int64, jobID id.ID) []byte {
	k := make([]byte, 0, len(prefixLease)+8+16)
	k = append(k, prefixLease...)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(expiresMs))
	k = append(k, b[:]...)
	k = append(k, jobID[:]...)
	return k
}

func metaKey() []byte { return []byte(metaKeyStr) }

// keyRange returns inclusive-lower/exclusive-upper bounds for a prefix scan.
func keyRange(prefix string) ([]byte, []byte) {
	lo := []byte(prefix)
	hi := make([]byte, len(prefix)+1)
	copy(hi, prefix)
	hi[len(prefix)] = 0xFF
	return lo, hi
}

// leaseKeyParts extracts the expiry and job id from a lease index key.
func leaseKeyParts(key []byte) (int64, id.ID, bool) {
	if len(key) != len(prefixLease)+8+16 {
		return 0, id.ID{}, false
	}
	expires := int64(binary.BigEndian.Uint64(key[len(prefixLease) : len(prefixLease)+8]))
	jobID, ok := id.FromBytes(key[len(prefixLease)+8:])
	return expires, jobID, ok
}

// readyKeyID extracts the job id from a ready index key.
func readyKeyID(key []byte) (id.ID, bool) {
	if len(key) != len(prefixReady)+16 {
		return id.ID{}, false
	}
	return id.FromBytes(key[len(prefixReady):])
}
