// Package protocol implements the BLD multicast wire format.
// It defines the primary and supplementary record layouts, extracts fields with
// explicit offsets and bit masks, decodes per-channel severities and encodes
// records for the packet generator.
package protocol
