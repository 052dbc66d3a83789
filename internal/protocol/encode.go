package protocol

// AppendPrimary appends the wire form of a primary record to dst
func AppendPrimary(dst []byte, p *PrimaryFrame) []byte {
	dst = ByteOrder.AppendUint64(dst, p.Timestamp)
	dst = ByteOrder.AppendUint64(dst, p.PulseID)
	dst = ByteOrder.AppendUint32(dst, p.Version)
	dst = ByteOrder.AppendUint64(dst, p.SeverityMask)
	for _, ch := range p.Channels {
		dst = ByteOrder.AppendUint32(dst, ch)
	}
	return dst
}

// AppendSupplementary appends the wire form of a supplementary record to dst.
// Deltas wider than their bit fields are truncated.
func AppendSupplementary(dst []byte, s *SupplementaryFrame) []byte {
	dst = ByteOrder.AppendUint32(dst, PackDelta(s.DeltaTimestamp, s.DeltaPulseID))
	dst = ByteOrder.AppendUint64(dst, s.SeverityMask)
	for _, ch := range s.Channels {
		dst = ByteOrder.AppendUint32(dst, ch)
	}
	return dst
}

// EncodeDatagram builds a complete datagram from a primary frame and its supplementary frames
func EncodeDatagram(p *PrimaryFrame, supplementary ...*SupplementaryFrame) []byte {
	size := PrimarySize(len(p.Channels))
	for _, s := range supplementary {
		size += SupplementarySize(len(s.Channels))
	}

	buf := make([]byte, 0, size)
	buf = AppendPrimary(buf, p)
	for _, s := range supplementary {
		buf = AppendSupplementary(buf, s)
	}
	return buf
}
