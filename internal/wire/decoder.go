package wire

// Decoder reassembles framed Messages from a byte stream that may arrive in
// arbitrary-sized chunks (as AF_UNIX stream reads do). It retains any
// partial header or payload between Feed calls.
type Decoder struct {
	buf []byte
}

// Feed appends newly read bytes and returns every message that is now fully
// assembled, in order. Bytes belonging to a still-incomplete message are
// retained internally for the next call.
func (d *Decoder) Feed(data []byte) ([]Message, error) {
	d.buf = append(d.buf, data...)

	var out []Message
	for {
		if len(d.buf) < HeaderSize {
			break
		}
		h, err := DecodeHeader(d.buf)
		if err != nil {
			return out, err
		}
		total := HeaderSize + int(h.Size)
		if len(d.buf) < total {
			break
		}
		payload := make([]byte, h.Size)
		copy(payload, d.buf[HeaderSize:total])
		out = append(out, Message{Type: h.Type, Arg1: h.Arg1, Arg2: h.Arg2, Payload: payload})
		d.buf = d.buf[total:]
	}
	// Compact so a decoder that has drained every complete message doesn't
	// keep growing the backing array across many small Feed calls.
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return out, nil
}

// Pending reports how many bytes of an incomplete message are buffered.
func (d *Decoder) Pending() int {
	return len(d.buf)
}
