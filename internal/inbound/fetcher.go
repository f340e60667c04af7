// Package inbound implements the guest->client path: fetching data out of
// whatever local X11 application currently owns a selection and posting it
// to the daemon.
package inbound

import (
	"fmt"
	"log"

	"github.com/example/x11clipbridge/internal/atoms"
	"github.com/example/x11clipbridge/internal/selection"
	"github.com/example/x11clipbridge/internal/wire"
	"github.com/example/x11clipbridge/internal/x11display"
	"github.com/example/x11clipbridge/internal/x11proto"
)

// releaseBufferThreshold: an inbound INCR buffer that grew past this size is
// released (its backing array dropped) rather than kept around for reuse.
const releaseBufferThreshold = 512 << 10

// microState tags the active request's progress, per the spec's "queue of
// micro-state" design note.
type microState int

const (
	idle microState = iota
	awaitingSelectionNotify
	awaitingIncrChunks
)

type request struct {
	target x11proto.Atom
	typ    wire.ClipboardType
}

type perSelection struct {
	queue                   []request
	state                   microState
	buf                     []byte
	expectingPropertyNotify bool
}

// Sender is the subset of DaemonChannel the fetcher needs to post results.
type Sender interface {
	Send(msgType wire.MessageType, arg1, arg2 uint32, payload []byte) error
}

// OwnerChanger applies an ownership transition to the shared SelectionState
// and performs whatever cross-component cleanup it implies. Satisfied by
// internal/bridge.Coordinator.
type OwnerChanger interface {
	ChangeOwner(id wire.SelectionID, newOwner selection.Owner)
}

// Fetcher drives InboundFetcher per the spec.
type Fetcher struct {
	display x11display.Display
	atoms   *atoms.Table
	sel     *selection.State
	send    Sender
	owner   OwnerChanger
	verbose bool

	perSel map[wire.SelectionID]*perSelection
}

// New builds a Fetcher.
func New(display x11display.Display, at *atoms.Table, sel *selection.State, send Sender, owner OwnerChanger, verbose bool) *Fetcher {
	return &Fetcher{
		display: display,
		atoms:   at,
		sel:     sel,
		send:    send,
		owner:   owner,
		verbose: verbose,
		perSel: map[wire.SelectionID]*perSelection{
			wire.Clipboard: {},
			wire.Primary:   {},
		},
	}
}

func (f *Fetcher) ps(id wire.SelectionID) *perSelection {
	p, ok := f.perSel[id]
	if !ok {
		p = &perSelection{}
		f.perSel[id] = p
	}
	return p
}

// BeginTargetsNegotiation issues a TARGETS conversion after the Coordinator
// observes a new non-self selection owner via XFixes.
func (f *Fetcher) BeginTargetsNegotiation(id wire.SelectionID) error {
	selAtom, ok := f.atoms.AtomForSelection(id)
	if !ok {
		return fmt.Errorf("inbound: unsupported selection %v", id)
	}
	f.sel.ExpectTargetsNotify(id)
	if err := f.display.ConvertSelection(selAtom, f.atoms.Targets, selAtom, f.display.SelectionWindow(), x11proto.CurrentTime); err != nil {
		return fmt.Errorf("inbound: convert TARGETS for %v: %w", id, err)
	}
	return nil
}

// HandleSelectionNotify dispatches a SelectionNotify event to the targets
// or data phase depending on which target it answers.
func (f *Fetcher) HandleSelectionNotify(id wire.SelectionID, target, property x11proto.Atom) error {
	if target == f.atoms.Targets {
		return f.handleTargetsNotify(id, property)
	}
	return f.handleDataNotify(id, property)
}

func (f *Fetcher) handleTargetsNotify(id wire.SelectionID, property x11proto.Atom) error {
	fresh := f.sel.ConsumeTargetsNotify(id)
	if !fresh {
		if f.verbose {
			log.Printf("inbound: dropping stale TARGETS reply for %v", id)
		}
		return nil
	}
	if property == x11proto.NoAtom {
		// Owner declined to answer TARGETS; neither grab nor refuse.
		return nil
	}
	val, err := f.display.GetProperty(f.display.SelectionWindow(), property, true)
	if err != nil {
		return nil
	}
	if val.Format != 32 {
		return nil
	}
	var recorded []selection.TypeAtom
	for _, ct := range atoms.OrderedTypes {
		for _, candidate := range f.atoms.AtomsForType(ct) {
			if containsAtom(val.Words, candidate) {
				recorded = append(recorded, selection.TypeAtom{Type: ct, Atom: candidate})
				break
			}
		}
	}
	if len(recorded) == 0 {
		return nil
	}
	f.sel.RecordTypes(id, recorded)
	f.owner.ChangeOwner(id, selection.OwnerGuest)

	types := make([]wire.ClipboardType, len(recorded))
	for i, ta := range recorded {
		types[i] = ta.Type
	}
	if f.verbose {
		log.Printf("inbound: %v targets negotiated: %v", id, types)
	}
	return f.send.Send(wire.ClipboardGrab, uint32(id), 0, wire.EncodeClipboardGrab(types))
}

func containsAtom(words []uint32, a x11proto.Atom) bool {
	for _, w := range words {
		if x11proto.Atom(w) == a {
			return true
		}
	}
	return false
}

func (f *Fetcher) handleDataNotify(id wire.SelectionID, property x11proto.Atom) error {
	ps := f.ps(id)
	if ps.state != awaitingSelectionNotify || len(ps.queue) == 0 {
		return nil
	}
	req := ps.queue[0]
	if property == x11proto.NoAtom {
		return f.completeActive(id, wire.None, nil)
	}
	val, err := f.display.GetProperty(f.display.SelectionWindow(), property, false)
	if err != nil {
		return f.completeActive(id, wire.None, nil)
	}
	if val.Type == f.atoms.Incr {
		if val.Format != 32 || len(val.Words) == 0 {
			return f.completeActive(id, wire.None, nil)
		}
		hint := val.Words[0]
		ps.buf = make([]byte, 0, hint)
		ps.state = awaitingIncrChunks
		ps.expectingPropertyNotify = true
		if err := f.display.SelectPropertyChangeInput(f.display.SelectionWindow()); err != nil {
			return f.completeActive(id, wire.None, nil)
		}
		if err := f.display.DeleteProperty(f.display.SelectionWindow(), property); err != nil {
			return f.completeActive(id, wire.None, nil)
		}
		return nil
	}
	if val.Format != 8 {
		return f.completeActive(id, wire.None, nil)
	}
	return f.completeActive(id, req.typ, val.Bytes)
}

// HandlePropertyNewValue services a PropertyNotify(NewValue) tick of an
// in-progress inbound INCR transfer.
func (f *Fetcher) HandlePropertyNewValue(id wire.SelectionID, property x11proto.Atom) error {
	ps := f.ps(id)
	if !ps.expectingPropertyNotify || len(ps.queue) == 0 {
		return nil
	}
	val, err := f.display.GetProperty(f.display.SelectionWindow(), property, true)
	if err != nil {
		return f.completeActive(id, wire.None, nil)
	}
	if val.Format != 8 {
		return f.completeActive(id, wire.None, nil)
	}
	if len(val.Bytes) == 0 {
		req := ps.queue[0]
		data := ps.buf
		ps.expectingPropertyNotify = false
		if cap(ps.buf) > releaseBufferThreshold {
			ps.buf = nil
		} else {
			ps.buf = ps.buf[:0]
		}
		return f.completeActive(id, req.typ, data)
	}
	ps.buf = append(ps.buf, val.Bytes...)
	return nil
}

// HandleClipboardRequest services a CLIPBOARD_REQUEST(selection, type)
// message from the daemon.
func (f *Fetcher) HandleClipboardRequest(id wire.SelectionID, ct wire.ClipboardType) error {
	atom, ok := f.sel.TypeAtomFor(id, ct)
	if f.sel.Owner(id) != selection.OwnerGuest || !ok {
		return f.send.Send(wire.ClipboardData, uint32(id), uint32(wire.None), nil)
	}
	ps := f.ps(id)
	ps.queue = append(ps.queue, request{target: atom, typ: ct})
	if len(ps.queue) == 1 {
		return f.startNext(id)
	}
	return nil
}

func (f *Fetcher) startNext(id wire.SelectionID) error {
	ps := f.ps(id)
	if len(ps.queue) == 0 {
		ps.state = idle
		return nil
	}
	selAtom, ok := f.atoms.AtomForSelection(id)
	if !ok {
		return fmt.Errorf("inbound: unsupported selection %v", id)
	}
	req := ps.queue[0]
	ps.state = awaitingSelectionNotify
	if err := f.display.ConvertSelection(selAtom, req.target, selAtom, f.display.SelectionWindow(), x11proto.CurrentTime); err != nil {
		return f.completeActive(id, wire.None, nil)
	}
	return nil
}

func (f *Fetcher) completeActive(id wire.SelectionID, ct wire.ClipboardType, payload []byte) error {
	ps := f.ps(id)
	if len(ps.queue) == 0 {
		return nil
	}
	ps.queue = ps.queue[1:]
	ps.state = idle
	if err := f.send.Send(wire.ClipboardData, uint32(id), uint32(ct), payload); err != nil {
		return err
	}
	return f.startNext(id)
}

// CancelAll fails every queued inbound request for a selection with a NONE
// reply and clears all fetcher state for it. Called when ownership leaves
// Guest.
func (f *Fetcher) CancelAll(id wire.SelectionID) {
	ps := f.ps(id)
	for range ps.queue {
		if err := f.send.Send(wire.ClipboardData, uint32(id), uint32(wire.None), nil); err != nil {
			log.Printf("inbound: cancel %v: send NONE: %v", id, err)
		}
	}
	ps.queue = nil
	ps.state = idle
	ps.buf = nil
	ps.expectingPropertyNotify = false
}
