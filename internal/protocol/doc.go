// Package protocol owns OSCAR wire constants and parsing primitives.
//
// Ownership boundary:
// - cursor: bounds-checked byte access
// - tlv: type-length-value chains
// - frame: FLAP, rendezvous and SNAC headers
package protocol
