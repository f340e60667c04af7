// Package x11displaytest provides a fake x11display.Display for exercising
// internal/inbound, internal/outbound and internal/bridge without a real X
// server, following the fakeBackend pattern used throughout this repo's
// teacher package for capture's X11 backend.
package x11displaytest

import (
	"fmt"

	"github.com/example/x11clipbridge/internal/x11display"
	"github.com/example/x11clipbridge/internal/x11proto"
)

// Property models the server-side state of one (window, atom) property.
type Property struct {
	Type   x11proto.Atom
	Format uint8
	Bytes  []byte
	Words  []uint32
	Exists bool
}

// ConvertCall records one ConvertSelection invocation for assertions.
type ConvertCall struct {
	Selection, Target, Property x11proto.Atom
	Requestor                   x11proto.Window
}

// NotifyCall records one SendSelectionNotify invocation.
type NotifyCall struct {
	Requestor                    x11proto.Window
	Selection, Target, Property  x11proto.Atom
}

// Fake is a scriptable, in-memory x11display.Display.
type Fake struct {
	Window x11proto.Window

	Atoms    map[string]x11proto.Atom
	nextAtom x11proto.Atom

	Properties map[x11proto.Window]map[x11proto.Atom]Property

	MaxProp uint32

	Events []x11display.Event

	ConvertCalls []ConvertCall
	NotifyCalls  []NotifyCall
	OwnerCalls   []struct {
		Selection x11proto.Atom
		Owner     x11proto.Window
	}
	Closed bool
	Synced int

	// ConvertErr, when set, is returned by ConvertSelection instead of
	// recording the call.
	ConvertErr error
}

// New returns a ready-to-use Fake with the selection window at id 1.
func New() *Fake {
	return &Fake{
		Window:     1,
		Atoms:      map[string]x11proto.Atom{},
		nextAtom:   100,
		Properties: map[x11proto.Window]map[x11proto.Atom]Property{},
		MaxProp:    256 << 10,
	}
}

func (f *Fake) InternAtom(name string) (x11proto.Atom, error) {
	if a, ok := f.Atoms[name]; ok {
		return a, nil
	}
	a := f.nextAtom
	f.nextAtom++
	f.Atoms[name] = a
	return a, nil
}

func (f *Fake) SelectionWindow() x11proto.Window { return f.Window }

func (f *Fake) ConvertSelection(selection, target, property x11proto.Atom, requestor x11proto.Window, _ x11proto.Timestamp) error {
	if f.ConvertErr != nil {
		return f.ConvertErr
	}
	f.ConvertCalls = append(f.ConvertCalls, ConvertCall{Selection: selection, Target: target, Property: property, Requestor: requestor})
	return nil
}

func (f *Fake) SetSelectionOwner(selection x11proto.Atom, owner x11proto.Window, _ x11proto.Timestamp) error {
	f.OwnerCalls = append(f.OwnerCalls, struct {
		Selection x11proto.Atom
		Owner     x11proto.Window
	}{selection, owner})
	return nil
}

func (f *Fake) propsFor(win x11proto.Window) map[x11proto.Atom]Property {
	m, ok := f.Properties[win]
	if !ok {
		m = map[x11proto.Atom]Property{}
		f.Properties[win] = m
	}
	return m
}

// SetProperty lets a test seed property state as if an external X11 client
// had written it (e.g. simulating a guest owner's SelectionNotify payload).
func (f *Fake) SetProperty(win x11proto.Window, atom x11proto.Atom, p Property) {
	p.Exists = true
	f.propsFor(win)[atom] = p
}

func (f *Fake) GetProperty(win x11proto.Window, property x11proto.Atom, del bool) (x11display.PropertyValue, error) {
	props := f.propsFor(win)
	p, ok := props[property]
	if !ok || !p.Exists {
		return x11display.PropertyValue{}, fmt.Errorf("no such property")
	}
	if del {
		delete(props, property)
	}
	return x11display.PropertyValue{Type: p.Type, Format: p.Format, Bytes: p.Bytes, Words: p.Words}, nil
}

func (f *Fake) ChangeProperty8(win x11proto.Window, property, typ x11proto.Atom, data []byte) error {
	cp := append([]byte(nil), data...)
	f.SetProperty(win, property, Property{Type: typ, Format: 8, Bytes: cp})
	return nil
}

func (f *Fake) ChangeProperty32(win x11proto.Window, property, typ x11proto.Atom, words []uint32) error {
	cp := append([]uint32(nil), words...)
	f.SetProperty(win, property, Property{Type: typ, Format: 32, Words: cp})
	return nil
}

func (f *Fake) DeleteProperty(win x11proto.Window, property x11proto.Atom) error {
	delete(f.propsFor(win), property)
	return nil
}

func (f *Fake) SelectPropertyChangeInput(x11proto.Window) error { return nil }

func (f *Fake) SendSelectionNotify(requestor x11proto.Window, selection, target, property x11proto.Atom, _ x11proto.Timestamp) error {
	f.NotifyCalls = append(f.NotifyCalls, NotifyCall{Requestor: requestor, Selection: selection, Target: target, Property: property})
	return nil
}

func (f *Fake) MaxPropertySize() uint32 { return f.MaxProp }

func (f *Fake) Sync() error { f.Synced++; return nil }

// PushEvent queues an event to be returned by a future PollEvent call.
func (f *Fake) PushEvent(ev x11display.Event) {
	f.Events = append(f.Events, ev)
}

func (f *Fake) PollEvent() (x11display.Event, bool, error) {
	if len(f.Events) == 0 {
		return nil, false, nil
	}
	ev := f.Events[0]
	f.Events = f.Events[1:]
	return ev, true, nil
}

func (f *Fake) Close() error {
	f.Closed = true
	return nil
}
