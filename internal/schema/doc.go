// Package schema describes the channels carried by BLD frames.
// A schema fixes the channel count, gives each channel a type and label, and
// remaps externally numbered channels onto physical payload slots. Schemas come
// from a description service (HTTP), a local file, or a format list.
package schema
