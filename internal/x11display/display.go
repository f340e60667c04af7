// Package x11display defines the bridge's XLib-equivalent surface: the set
// of calls the protocol logic needs from an X11 connection, plus the event
// types it must be able to observe. internal/inbound, internal/outbound and
// internal/bridge call only the Display interface, so they can be exercised
// in tests with a fake. The xgb-backed implementation lives in this package
// too, so building any importer still requires the xgb module.
package x11display

import "github.com/example/x11clipbridge/internal/x11proto"

// PropertyValue is the result of reading an X11 property. For Format==32
// properties (ATOM/CARDINAL lists such as TARGETS or an INCR size hint) the
// value is exposed as already-host-order Words; for Format==8 properties
// (the byte payloads exchanged for clipboard data) it is exposed as Bytes.
type PropertyValue struct {
	Type   x11proto.Atom
	Format uint8
	Bytes  []byte
	Words  []uint32
}

// Event is the common interface satisfied by every X11 event the bridge
// dispatches on. It carries no behavior; the Coordinator type-switches on
// the concrete types below.
type Event interface {
	isX11Event()
}

// SelectionOwnerChanged is the XFixes SetSelectionOwnerNotify event (and the
// WindowDestroy/ClientClose variants, which the display implementation
// normalizes to the same shape with Owner==x11proto.NoWindow).
type SelectionOwnerChanged struct {
	Selection x11proto.Atom
	Owner     x11proto.Window
}

func (SelectionOwnerChanged) isX11Event() {}

// SelectionNotify is the SelectionNotify event delivered in response to a
// ConvertSelection request. Property is x11proto.NoAtom when the owner
// refused to convert.
type SelectionNotify struct {
	Requestor x11proto.Window
	Selection x11proto.Atom
	Target    x11proto.Atom
	Property  x11proto.Atom
}

func (SelectionNotify) isX11Event() {}

// SelectionRequest is a local application's request that we (as the
// selection owner via selection_window) convert our held selection to a
// target representation.
type SelectionRequest struct {
	Owner     x11proto.Window
	Requestor x11proto.Window
	Selection x11proto.Atom
	Target    x11proto.Atom
	Property  x11proto.Atom
	Time      x11proto.Timestamp
}

func (SelectionRequest) isX11Event() {}

// SelectionClear indicates our ownership of a selection was revoked by the
// server. The spec treats this as a no-op: the authoritative signal is the
// XFixes SelectionOwnerChanged event that follows.
type SelectionClear struct {
	Selection x11proto.Atom
}

func (SelectionClear) isX11Event() {}

// PropertyDelta is a PropertyNotify event, distinguishing NewValue (a
// property was written — used to drive inbound INCR receive) from Delete (a
// property was deleted — used to drive outbound INCR send).
type PropertyDelta struct {
	Window   x11proto.Window
	Property x11proto.Atom
	Deleted  bool
}

func (PropertyDelta) isX11Event() {}

// Display is the XLib-equivalent surface the protocol components need. No
// method waits on another X11 client: results produced by other clients (a
// selection owner's conversion, a requestor deleting a property) surface
// later as Events from PollEvent. Methods may make a round trip to the X
// server: InternAtom, GetProperty and Sync return its reply, and the
// xgb-backed implementation checks every request it sends.
type Display interface {
	// InternAtom interns (creating if necessary) the atom named by name.
	InternAtom(name string) (x11proto.Atom, error)

	// SelectionWindow returns the id of the bridge's hidden 1x1 proxy
	// window, used both as the ConvertSelection requestor and as the
	// identity compared against an incoming owner to detect self-ownership.
	SelectionWindow() x11proto.Window

	// ConvertSelection asks the current owner of selection to convert it to
	// target, landing the result in property on requestor.
	ConvertSelection(selection, target, property x11proto.Atom, requestor x11proto.Window, t x11proto.Timestamp) error

	// SetSelectionOwner asserts or releases ownership of selection. owner
	// is x11proto.NoWindow to release.
	SetSelectionOwner(selection x11proto.Atom, owner x11proto.Window, t x11proto.Timestamp) error

	// GetProperty reads a property from win, optionally deleting it
	// afterward in the same round trip.
	GetProperty(win x11proto.Window, property x11proto.Atom, delete bool) (PropertyValue, error)

	// ChangeProperty writes data as a property of type typ on win, using
	// format 8 (raw bytes, data holds the bytes directly) or format 32
	// (words holds native uint32 values later encoded to wire order).
	ChangeProperty8(win x11proto.Window, property, typ x11proto.Atom, data []byte) error
	ChangeProperty32(win x11proto.Window, property, typ x11proto.Atom, words []uint32) error

	// DeleteProperty removes a property, which for INCR receive is the
	// signal telling the owner to begin writing the next chunk.
	DeleteProperty(win x11proto.Window, property x11proto.Atom) error

	// SelectPropertyChangeInput arranges for PropertyNotify events on win.
	SelectPropertyChangeInput(win x11proto.Window) error

	// SendSelectionNotify replies to a SelectionRequest. property is
	// x11proto.NoAtom to indicate refusal.
	SendSelectionNotify(requestor x11proto.Window, selection, target, property x11proto.Atom, t x11proto.Timestamp) error

	// MaxPropertySize is the per-property byte budget computed at startup.
	MaxPropertySize() uint32

	// Sync flushes queued requests and waits for the server to process
	// them, used after releasing a selection so the resulting ownership
	// change is observed before returning.
	Sync() error

	// PollEvent returns the next already-queued event without blocking, or
	// ok==false if none is pending. The Coordinator calls this in a loop to
	// implement the event-drain requirement.
	PollEvent() (ev Event, ok bool, err error)

	// Close releases the connection.
	Close() error
}
