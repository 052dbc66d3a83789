// Package pipeline ties the decoder, validator and report accumulator into
// a single per-datagram processing step with version and severity filters.
package pipeline
