// Package ledger stores the append-only step-event streams consulted on
// lease takeover. Entries are framed with a varint header length and a
// crc32c trailer so torn or corrupted rows are detected on read.
package ledger
