// Package frame owns the ingest wire contract.
//
// Ownership boundary:
// - 0xBE 0xEF marker and 6-byte header layout
// - frame encoding for clients and tests
// - stream decoding with resynchronisation
//
// Decoder never fails: bytes that cannot start a frame are discarded and
// reported through OnDiscard and Stats.
package frame
