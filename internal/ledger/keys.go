package ledger

import "encoding/binary"

// Keyspace (byte-wise, lexicographically sortable):
//
//	ld/{tenant}/{work_order}/m         - stream metadata (lastSeq be8)
//	ld/{tenant}/{work_order}/e/{seq_be8} - framed ledger entry
const (
	prefix     = "ld/"
	metaSuffix = "/m"
	entrySeg   = "/e/"
)

func streamPrefix(tenant, workOrder string) []byte {
	k := make([]byte, 0, len(prefix)+len(tenant)+1+len(workOrder))
	k = append(k, prefix...)
	k = append(k, tenant...)
	k = append(k, '/')
	k = append(k, workOrder...)
	return k
}

func metaKey(tenant, workOrder string) []byte {
	return append(streamPrefix(tenant, workOrder), metaSuffix...)
}

func entryKey(tenant, workOrder string, seq uint64) []byte {
	k := append(streamPrefix(tenant, workOrder), entrySeg...)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return append(k, b[:]...)
}

func entryRange(tenant, workOrder string, fromSeq uint64) (lo, hi []byte) {
	lo = entryKey(tenant, workOrder, fromSeq)
	hi = append(streamPrefix(tenant, workOrder), entrySeg...)
	hi = append(hi, 0xFF)
	return lo, hi
}

func seqFromEntryKey(key []byte) (uint64, bool) {
	if len(key) < 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[len(key)-8:]), true
}
