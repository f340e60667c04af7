package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := Message{Type: ClipboardData, Arg1: uint32(Clipboard), Arg2: uint32(UTF8Text), Payload: []byte("hello")}
	buf := Encode(msg)

	h, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if h.Type != ClipboardData || h.Arg1 != msg.Arg1 || h.Arg2 != msg.Arg2 || int(h.Size) != len(msg.Payload) {
		t.Fatalf("header mismatch: %+v", h)
	}
	if !bytes.Equal(buf[HeaderSize:], msg.Payload) {
		t.Fatalf("payload mismatch: %q", buf[HeaderSize:])
	}
}

func TestParseSelectionID(t *testing.T) {
	cases := []struct {
		in      uint32
		wantErr bool
	}{
		{0, false},
		{1, false},
		{2, true},
		{3, true},
	}
	for _, c := range cases {
		_, err := ParseSelectionID(c.in)
		if (err != nil) != c.wantErr {
			t.Errorf("ParseSelectionID(%d): err=%v, wantErr=%v", c.in, err, c.wantErr)
		}
	}
}

func TestDecoderFeedPartial(t *testing.T) {
	var d Decoder
	full := Encode(Message{Type: ClipboardRequest, Arg1: 0, Arg2: uint32(UTF8Text), Payload: nil})

	msgs, err := d.Feed(full[:5])
	if err != nil {
		t.Fatalf("Feed partial header: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages from a partial header, got %d", len(msgs))
	}

	msgs, err = d.Feed(full[5:])
	if err != nil {
		t.Fatalf("Feed rest: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Type != ClipboardRequest || msgs[0].Arg2 != uint32(UTF8Text) {
		t.Fatalf("unexpected message: %+v", msgs[0])
	}
}

func TestDecoderFeedMultipleAtOnce(t *testing.T) {
	var d Decoder
	one := Encode(Message{Type: ClipboardRelease, Arg1: uint32(Primary), Arg2: 0})
	two := Encode(Message{Type: ClipboardData, Arg1: uint32(Clipboard), Arg2: uint32(ImagePNG), Payload: []byte{1, 2, 3}})

	msgs, err := d.Feed(append(append([]byte{}, one...), two...))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Type != ClipboardRelease || msgs[1].Type != ClipboardData {
		t.Fatalf("unexpected message order: %+v", msgs)
	}
	if !bytes.Equal(msgs[1].Payload, []byte{1, 2, 3}) {
		t.Fatalf("unexpected payload: %v", msgs[1].Payload)
	}
}

func TestDecoderRejectsOversizedPayload(t *testing.T) {
	var d Decoder
	buf := make([]byte, HeaderSize)
	// Craft a header claiming a payload far larger than MaxPayloadSize.
	h := Header{Type: ClipboardData, Size: MaxPayloadSize + 1}
	copy(buf, Encode(Message{Type: h.Type})[:HeaderSize])
	buf[12] = 0xFF
	buf[13] = 0xFF
	buf[14] = 0xFF
	buf[15] = 0xFF
	if _, err := d.Feed(buf); err == nil {
		t.Fatalf("expected error for oversized payload")
	}
}

func TestEncodeClipboardGrabRoundTrip(t *testing.T) {
	types := []ClipboardType{UTF8Text, ImagePNG, ImageBMP}
	payload := EncodeClipboardGrab(types)
	got := DecodeClipboardGrab(payload)
	if len(got) != len(types) {
		t.Fatalf("length mismatch: got %d want %d", len(got), len(types))
	}
	for i := range types {
		if got[i] != types[i] {
			t.Fatalf("index %d: got %v want %v", i, got[i], types[i])
		}
	}
}
