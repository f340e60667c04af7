// Package selection tracks per-selection ownership and the type/atom
// catalog currently advertised by whichever side owns each of CLIPBOARD and
// PRIMARY.
package selection

import (
	"github.com/example/x11clipbridge/internal/wire"
	"github.com/example/x11clipbridge/internal/x11proto"
)

// Owner identifies who currently holds a selection.
type Owner int

const (
	OwnerNone Owner = iota
	OwnerGuest
	OwnerClient
)

func (o Owner) String() string {
	switch o {
	case OwnerNone:
		return "none"
	case OwnerGuest:
		return "guest"
	case OwnerClient:
		return "client"
	default:
		return "owner(?)"
	}
}

// maxAdvertisedTypes bounds the catalog length per spec.
const maxAdvertisedTypes = 256

// TypeAtom pairs a recognized ClipboardType with the X11 atom it was
// negotiated under.
type TypeAtom struct {
	Type wire.ClipboardType
	Atom x11proto.Atom
}

type record struct {
	owner                  Owner
	advertisedTypes        []TypeAtom
	pendingTargetsNotifies int
}

// Transition describes an ownership change, for callers that need to run
// cleanup side effects (cancelling queued requests, sending
// CLIPBOARD_RELEASE) without State itself depending on those components.
type Transition struct {
	Selection wire.SelectionID
	From, To  Owner
}

// LeftGuest reports whether this transition moved a selection's ownership
// away from the local X11 guest application.
func (t Transition) LeftGuest() bool { return t.From == OwnerGuest && t.To != OwnerGuest }

// LeftClient reports whether this transition moved a selection's ownership
// away from the daemon-held client side.
func (t Transition) LeftClient() bool { return t.From == OwnerClient && t.To != OwnerClient }

// GuestReleased reports the specific Guest->None transition that must emit
// a CLIPBOARD_RELEASE to the daemon.
func (t Transition) GuestReleased() bool { return t.From == OwnerGuest && t.To == OwnerNone }

// State holds the SelectionRecord for CLIPBOARD and PRIMARY.
type State struct {
	records map[wire.SelectionID]*record
}

// New returns a State with both supported selections initialized to
// owner=None.
func New() *State {
	return &State{records: map[wire.SelectionID]*record{
		wire.Clipboard: {},
		wire.Primary:   {},
	}}
}

func (s *State) rec(id wire.SelectionID) *record {
	r, ok := s.records[id]
	if !ok {
		r = &record{}
		s.records[id] = r
	}
	return r
}

// SetOwner applies an ownership change and reports the transition so the
// caller can run the cleanup actions the spec assigns to ownership changes.
// State itself performs no side effects.
func (s *State) SetOwner(id wire.SelectionID, newOwner Owner) Transition {
	r := s.rec(id)
	old := r.owner
	r.owner = newOwner
	return Transition{Selection: id, From: old, To: newOwner}
}

// Owner reports the current owner of a selection.
func (s *State) Owner(id wire.SelectionID) Owner {
	return s.rec(id).owner
}

// RecordTypes replaces the advertised catalog for a selection, capped at
// maxAdvertisedTypes entries.
func (s *State) RecordTypes(id wire.SelectionID, types []TypeAtom) {
	if len(types) > maxAdvertisedTypes {
		types = types[:maxAdvertisedTypes]
	}
	r := s.rec(id)
	r.advertisedTypes = append([]TypeAtom(nil), types...)
}

// AdvertisedTypes returns the catalog most recently negotiated from the
// current owner.
func (s *State) AdvertisedTypes(id wire.SelectionID) []TypeAtom {
	return s.rec(id).advertisedTypes
}

// TypeAtomFor looks up the atom a ClipboardType was last advertised under.
func (s *State) TypeAtomFor(id wire.SelectionID, ct wire.ClipboardType) (x11proto.Atom, bool) {
	for _, ta := range s.rec(id).advertisedTypes {
		if ta.Type == ct {
			return ta.Atom, true
		}
	}
	return 0, false
}

// HasType reports whether a ClipboardType is in the current catalog.
func (s *State) HasType(id wire.SelectionID, ct wire.ClipboardType) bool {
	_, ok := s.TypeAtomFor(id, ct)
	return ok
}

// ExpectTargetsNotify records that a TARGETS conversion was issued and its
// SelectionNotify reply is still outstanding.
func (s *State) ExpectTargetsNotify(id wire.SelectionID) {
	s.rec(id).pendingTargetsNotifies++
}

// ConsumeTargetsNotify decrements the pending-notify counter for an arriving
// SelectionNotify(TARGETS) and reports whether this reply is the most
// recent one expected (readers should drop any reply that returns false: a
// newer owner has since appeared and issued its own conversion).
func (s *State) ConsumeTargetsNotify(id wire.SelectionID) bool {
	r := s.rec(id)
	if r.pendingTargetsNotifies > 0 {
		r.pendingTargetsNotifies--
	}
	return r.pendingTargetsNotifies == 0
}
