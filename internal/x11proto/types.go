// Package x11proto defines the small set of X11 protocol value types shared
// across the bridge's packages, independent of any particular X11 client
// library. Keeping them here lets atoms and selection build without xgb, and
// lets inbound and outbound refer only to x11display's Display interface, so
// all four can be unit tested without a display connection.
package x11proto

// Atom is an X11 atom id.
type Atom uint32

// Window is an X11 window id.
type Window uint32

// Timestamp is an X11 server timestamp, or CurrentTime (0).
type Timestamp uint32

// None is the X11 null atom/window/value, shared across all three uses by
// the protocol (an atom of 0, a window of 0, and a property value of 0 all
// mean "none" in their respective contexts).
const None = 0

// NoWindow is the null window id.
const NoWindow Window = 0

// NoAtom is the null atom id.
const NoAtom Atom = 0

// CurrentTime requests the server assign the current time to a request.
const CurrentTime Timestamp = 0

// Predefined core-protocol atoms that never need interning (X11 reserves
// fixed ids 1-68 for them).
const (
	PredefinedAtomATOM     Atom = 4
	PredefinedAtomCARDINAL Atom = 6
	PredefinedAtomSTRING   Atom = 31
)
