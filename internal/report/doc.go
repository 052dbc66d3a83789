// Package report accumulates invalid BLD datagrams for later inspection.
// It keeps received/error counters, owns copies of the offending bytes and
// serializes them as JSON or CBOR, optionally zstd compressed.
package report
