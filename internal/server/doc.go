// Package server implements the UDP receive loop for BLD datagrams and the HTTP
// status API. The receive loop is single-threaded; the HTTP API reads counters
// concurrently through the pipeline's locks.
package server
