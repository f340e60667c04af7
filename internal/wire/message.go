// Package wire implements the framed message protocol spoken over the local
// socket between the bridge and the host-side clipboard daemon: a
// little-endian fixed header followed by a variable-length payload.
package wire

import (
	"encoding/binary"
	"fmt"
)

// SelectionID identifies an X11 selection on the wire. Only Clipboard and
// Primary are accepted by the bridge; Secondary exists on the wire (the
// original protocol reserves the value) but is rejected at the decode
// boundary.
type SelectionID uint32

const (
	Clipboard SelectionID = 0
	Primary   SelectionID = 1
	Secondary SelectionID = 2
)

func (s SelectionID) String() string {
	switch s {
	case Clipboard:
		return "CLIPBOARD"
	case Primary:
		return "PRIMARY"
	case Secondary:
		return "SECONDARY"
	default:
		return fmt.Sprintf("SelectionID(%d)", uint32(s))
	}
}

// ParseSelectionID validates a wire value, rejecting SECONDARY and anything
// out of range.
func ParseSelectionID(v uint32) (SelectionID, error) {
	switch SelectionID(v) {
	case Clipboard, Primary:
		return SelectionID(v), nil
	case Secondary:
		return 0, fmt.Errorf("selection SECONDARY is not supported")
	default:
		return 0, fmt.Errorf("unknown selection id %d", v)
	}
}

// ClipboardType identifies clipboard payload semantics independent of any
// X11 atom. Values are stable on the wire.
type ClipboardType uint32

const (
	None      ClipboardType = 0
	UTF8Text  ClipboardType = 1
	ImagePNG  ClipboardType = 2
	ImageBMP  ClipboardType = 3
	ImageTIFF ClipboardType = 4
	ImageJPG  ClipboardType = 5
)

func (c ClipboardType) String() string {
	switch c {
	case None:
		return "NONE"
	case UTF8Text:
		return "UTF8_TEXT"
	case ImagePNG:
		return "IMAGE_PNG"
	case ImageBMP:
		return "IMAGE_BMP"
	case ImageTIFF:
		return "IMAGE_TIFF"
	case ImageJPG:
		return "IMAGE_JPG"
	default:
		return fmt.Sprintf("ClipboardType(%d)", uint32(c))
	}
}

// MessageType is the `type` field of a framed message.
type MessageType uint32

const (
	GuestXorgResolution MessageType = iota + 1
	ClipboardGrab
	ClipboardRequest
	ClipboardData
	ClipboardRelease
)

func (m MessageType) String() string {
	switch m {
	case GuestXorgResolution:
		return "GUEST_XORG_RESOLUTION"
	case ClipboardGrab:
		return "CLIPBOARD_GRAB"
	case ClipboardRequest:
		return "CLIPBOARD_REQUEST"
	case ClipboardData:
		return "CLIPBOARD_DATA"
	case ClipboardRelease:
		return "CLIPBOARD_RELEASE"
	default:
		return fmt.Sprintf("MessageType(%d)", uint32(m))
	}
}

// HeaderSize is the encoded size of a Header: four little-endian uint32s.
const HeaderSize = 16

// MaxPayloadSize bounds a single message's payload so a corrupt or hostile
// peer cannot make the decoder allocate unbounded memory.
const MaxPayloadSize = 64 << 20

// Header is the fixed-size preamble of every framed message.
type Header struct {
	Type MessageType
	Arg1 uint32
	Arg2 uint32
	Size uint32
}

// Message is a fully assembled framed message.
type Message struct {
	Type    MessageType
	Arg1    uint32
	Arg2    uint32
	Payload []byte
}

// Encode serializes a message to its wire form: header then payload.
func Encode(m Message) []byte {
	buf := make([]byte, HeaderSize+len(m.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(m.Type))
	binary.LittleEndian.PutUint32(buf[4:8], m.Arg1)
	binary.LittleEndian.PutUint32(buf[8:12], m.Arg2)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(m.Payload)))
	copy(buf[HeaderSize:], m.Payload)
	return buf
}

// DecodeHeader parses a Header from the first HeaderSize bytes of buf.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("short header: %d bytes", len(buf))
	}
	h := Header{
		Type: MessageType(binary.LittleEndian.Uint32(buf[0:4])),
		Arg1: binary.LittleEndian.Uint32(buf[4:8]),
		Arg2: binary.LittleEndian.Uint32(buf[8:12]),
		Size: binary.LittleEndian.Uint32(buf[12:16]),
	}
	if h.Size > MaxPayloadSize {
		return Header{}, fmt.Errorf("payload size %d exceeds limit", h.Size)
	}
	return h, nil
}

// EncodeUint32List packs a slice of uint32 atom-like values (ClipboardType,
// etc.) as the wire representation used by CLIPBOARD_GRAB: one little-endian
// uint32 per entry.
func EncodeUint32List(vals []uint32) []byte {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], v)
	}
	return buf
}

// DecodeUint32List is the inverse of EncodeUint32List; it ignores a trailing
// partial word rather than erroring, mirroring the bridge's tolerant
// handling of malformed peer payloads elsewhere.
func DecodeUint32List(buf []byte) []uint32 {
	n := len(buf) / 4
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
	}
	return out
}

// EncodeClipboardGrab builds the CLIPBOARD_GRAB payload: an array of
// ClipboardType values, one per recognized target.
func EncodeClipboardGrab(types []ClipboardType) []byte {
	vals := make([]uint32, len(types))
	for i, t := range types {
		vals[i] = uint32(t)
	}
	return EncodeUint32List(vals)
}

// DecodeClipboardGrab is the inverse of EncodeClipboardGrab.
func DecodeClipboardGrab(payload []byte) []ClipboardType {
	vals := DecodeUint32List(payload)
	out := make([]ClipboardType, len(vals))
	for i, v := range vals {
		out[i] = ClipboardType(v)
	}
	return out
}

// EncodeResolution builds the GUEST_XORG_RESOLUTION payload.
func EncodeResolution(width, height uint32) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], width)
	binary.LittleEndian.PutUint32(buf[4:8], height)
	return buf
}
