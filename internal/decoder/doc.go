// Package decoder splits a received BLD datagram into its primary frame and the
// supplementary frames packed behind it. Channel counts come from a fixed
// schema or, without one, from the datagram length. Every record is checked by
// a shared validator before it is handed out.
package decoder
