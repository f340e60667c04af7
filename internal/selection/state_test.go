package selection

import (
	"testing"

	"github.com/example/x11clipbridge/internal/wire"
)

func TestSetOwnerTransitionFlags(t *testing.T) {
	s := New()
	s.SetOwner(wire.Clipboard, OwnerGuest)
	tr := s.SetOwner(wire.Clipboard, OwnerNone)
	if !tr.LeftGuest() {
		t.Fatalf("expected LeftGuest")
	}
	if !tr.GuestReleased() {
		t.Fatalf("expected GuestReleased")
	}
	if tr.LeftClient() {
		t.Fatalf("did not expect LeftClient")
	}
}

func TestSetOwnerGuestToClientLeavesGuestNotReleased(t *testing.T) {
	s := New()
	s.SetOwner(wire.Clipboard, OwnerGuest)
	tr := s.SetOwner(wire.Clipboard, OwnerClient)
	if !tr.LeftGuest() {
		t.Fatalf("expected LeftGuest")
	}
	if tr.GuestReleased() {
		t.Fatalf("GuestReleased should only fire on Guest->None")
	}
}

func TestRecordTypesCapped(t *testing.T) {
	s := New()
	types := make([]TypeAtom, 300)
	for i := range types {
		types[i] = TypeAtom{Type: wire.UTF8Text, Atom: 1}
	}
	s.RecordTypes(wire.Clipboard, types)
	if got := len(s.AdvertisedTypes(wire.Clipboard)); got != 256 {
		t.Fatalf("expected catalog capped at 256, got %d", got)
	}
}

func TestTargetsNotifyStaleness(t *testing.T) {
	s := New()
	s.ExpectTargetsNotify(wire.Clipboard)
	s.ExpectTargetsNotify(wire.Clipboard)
	s.ExpectTargetsNotify(wire.Clipboard)

	if fresh := s.ConsumeTargetsNotify(wire.Clipboard); fresh {
		t.Fatalf("first of three replies should be stale")
	}
	if fresh := s.ConsumeTargetsNotify(wire.Clipboard); fresh {
		t.Fatalf("second of three replies should be stale")
	}
	if fresh := s.ConsumeTargetsNotify(wire.Clipboard); !fresh {
		t.Fatalf("third (last) reply should be fresh")
	}
}

func TestHasTypeAndTypeAtomFor(t *testing.T) {
	s := New()
	s.RecordTypes(wire.Primary, []TypeAtom{{Type: wire.UTF8Text, Atom: 42}})
	if !s.HasType(wire.Primary, wire.UTF8Text) {
		t.Fatalf("expected HasType true")
	}
	if s.HasType(wire.Primary, wire.ImagePNG) {
		t.Fatalf("expected HasType false for unadvertised type")
	}
	atom, ok := s.TypeAtomFor(wire.Primary, wire.UTF8Text)
	if !ok || atom != 42 {
		t.Fatalf("TypeAtomFor = %v, %v", atom, ok)
	}
}
