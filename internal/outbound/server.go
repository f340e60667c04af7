// Package outbound implements the client->guest path: serving X11
// SelectionRequest events on behalf of the daemon, which holds the
// selection when a remote peer owns the clipboard.
package outbound

import (
	"fmt"
	"log"

	"github.com/example/x11clipbridge/internal/atoms"
	"github.com/example/x11clipbridge/internal/selection"
	"github.com/example/x11clipbridge/internal/wire"
	"github.com/example/x11clipbridge/internal/x11display"
	"github.com/example/x11clipbridge/internal/x11proto"
)

type microState int

const (
	idle microState = iota
	awaitingData
	awaitingIncrDelete
)

type queuedRequest struct {
	requestor x11proto.Window
	target    x11proto.Atom
	property  x11proto.Atom
	time      x11proto.Timestamp
}

type incrSend struct {
	requestor  x11proto.Window
	propAtom   x11proto.Atom
	targetAtom x11proto.Atom
	buf        []byte
	cursor     int
}

type perSelection struct {
	queue        []queuedRequest
	state        microState
	incr         *incrSend
	awaitingType wire.ClipboardType
}

// Sender is the subset of DaemonChannel the server needs to request data.
type Sender interface {
	Send(msgType wire.MessageType, arg1, arg2 uint32, payload []byte) error
}

// OwnerChanger applies an ownership transition to the shared SelectionState
// and performs whatever cross-component cleanup it implies. Satisfied by
// internal/bridge.Coordinator.
type OwnerChanger interface {
	ChangeOwner(id wire.SelectionID, newOwner selection.Owner)
}

// Server drives OutboundServer per the spec.
type Server struct {
	display x11display.Display
	atoms   *atoms.Table
	sel     *selection.State
	send    Sender
	owner   OwnerChanger
	verbose bool

	perSel map[wire.SelectionID]*perSelection
}

// New builds a Server.
func New(display x11display.Display, at *atoms.Table, sel *selection.State, send Sender, owner OwnerChanger, verbose bool) *Server {
	return &Server{
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

func (s *Server) ps(id wire.SelectionID) *perSelection {
	p, ok := s.perSel[id]
	if !ok {
		p = &perSelection{}
		s.perSel[id] = p
	}
	return p
}

// HandleClipboardGrab records the catalog the daemon is offering, takes
// ownership of the X11 selection via the proxy window, and marks the
// selection as Client-owned.
func (s *Server) HandleClipboardGrab(id wire.SelectionID, types []wire.ClipboardType) error {
	selAtom, ok := s.atoms.AtomForSelection(id)
	if !ok {
		return fmt.Errorf("outbound: unsupported selection %v", id)
	}
	var recorded []selection.TypeAtom
	for _, ct := range types {
		group := s.atoms.AtomsForType(ct)
		if len(group) == 0 {
			continue
		}
		recorded = append(recorded, selection.TypeAtom{Type: ct, Atom: group[0]})
	}
	s.sel.RecordTypes(id, recorded)
	if err := s.display.SetSelectionOwner(selAtom, s.display.SelectionWindow(), x11proto.CurrentTime); err != nil {
		return fmt.Errorf("outbound: set selection owner for %v: %w", id, err)
	}
	s.owner.ChangeOwner(id, selection.OwnerClient)
	return nil
}

// HandleClipboardRelease relinquishes X11 ownership of the selection. The
// resulting ownership transition is observed and applied through the
// ordinary XFixes SetSelectionOwnerNotify dispatch path; Sync here only
// ensures that event is not left pending on the wire.
func (s *Server) HandleClipboardRelease(id wire.SelectionID) error {
	selAtom, ok := s.atoms.AtomForSelection(id)
	if !ok {
		return fmt.Errorf("outbound: unsupported selection %v", id)
	}
	if err := s.display.SetSelectionOwner(selAtom, x11proto.NoWindow, x11proto.CurrentTime); err != nil {
		return fmt.Errorf("outbound: release selection owner for %v: %w", id, err)
	}
	return s.display.Sync()
}

// HandleSelectionRequest enqueues a local application's SelectionRequest and
// begins processing it if the queue was empty.
func (s *Server) HandleSelectionRequest(id wire.SelectionID, req x11display.SelectionRequest) error {
	ps := s.ps(id)
	ps.queue = append(ps.queue, queuedRequest{requestor: req.Requestor, target: req.Target, property: req.Property, time: req.Time})
	if len(ps.queue) == 1 {
		return s.processHead(id)
	}
	return nil
}

func (s *Server) refuse(id wire.SelectionID, head queuedRequest, selAtom x11proto.Atom) error {
	if err := s.display.SendSelectionNotify(head.requestor, selAtom, head.target, x11proto.NoAtom, head.time); err != nil {
		return fmt.Errorf("outbound: refuse %v: %w", id, err)
	}
	return s.advance(id)
}

func (s *Server) processHead(id wire.SelectionID) error {
	ps := s.ps(id)
	if len(ps.queue) == 0 {
		return nil
	}
	head := ps.queue[0]
	selAtom, ok := s.atoms.AtomForSelection(id)
	if !ok {
		return fmt.Errorf("outbound: unsupported selection %v", id)
	}

	if s.sel.Owner(id) != selection.OwnerClient {
		return s.refuse(id, head, selAtom)
	}
	if head.target == s.atoms.Multiple {
		return s.refuse(id, head, selAtom)
	}
	if head.target == s.atoms.Targets {
		return s.serveTargets(id, head, selAtom)
	}
	ct, ok := s.atoms.ClassifyTarget(head.target)
	if !ok || !s.sel.HasType(id, ct) {
		return s.refuse(id, head, selAtom)
	}
	ps.state = awaitingData
	ps.awaitingType = ct
	if s.verbose {
		log.Printf("outbound: %v requesting %v from daemon for target", id, ct)
	}
	return s.send.Send(wire.ClipboardRequest, uint32(id), uint32(ct), nil)
}

func (s *Server) serveTargets(id wire.SelectionID, head queuedRequest, selAtom x11proto.Atom) error {
	words := []uint32{uint32(s.atoms.Targets)}
	for _, ct := range atoms.OrderedTypes {
		if !s.sel.HasType(id, ct) {
			continue
		}
		for _, a := range s.atoms.AtomsForType(ct) {
			words = append(words, uint32(a))
		}
	}
	prop := head.property
	if err := s.display.ChangeProperty32(head.requestor, prop, x11proto.PredefinedAtomATOM, words); err != nil {
		return s.refuse(id, head, selAtom)
	}
	if err := s.display.SendSelectionNotify(head.requestor, selAtom, head.target, prop, head.time); err != nil {
		return fmt.Errorf("outbound: notify TARGETS %v: %w", id, err)
	}
	return s.advance(id)
}

func (s *Server) advance(id wire.SelectionID) error {
	ps := s.ps(id)
	if len(ps.queue) > 0 {
		ps.queue = ps.queue[1:]
	}
	ps.state = idle
	ps.incr = nil
	ps.awaitingType = wire.None
	if len(ps.queue) > 0 {
		return s.processHead(id)
	}
	return nil
}

// HandleClipboardData services a CLIPBOARD_DATA reply from the daemon,
// delivering it to the active requestor in one shot or switching to INCR
// send mode when the payload exceeds max_prop_size.
func (s *Server) HandleClipboardData(id wire.SelectionID, ct wire.ClipboardType, payload []byte) error {
	ps := s.ps(id)
	selAtom, ok := s.atoms.AtomForSelection(id)
	if !ok {
		return fmt.Errorf("outbound: unsupported selection %v", id)
	}
	if len(ps.queue) == 0 || ps.state != awaitingData || ps.awaitingType != ct {
		if len(ps.queue) > 0 {
			return s.refuse(id, ps.queue[0], selAtom)
		}
		return nil
	}
	head := ps.queue[0]
	if ct == wire.None {
		return s.refuse(id, head, selAtom)
	}

	if uint32(len(payload)) <= s.display.MaxPropertySize() {
		if err := s.display.ChangeProperty8(head.requestor, head.property, head.target, payload); err != nil {
			return s.refuse(id, head, selAtom)
		}
		if err := s.display.SendSelectionNotify(head.requestor, selAtom, head.target, head.property, head.time); err != nil {
			return fmt.Errorf("outbound: notify %v: %w", id, err)
		}
		return s.advance(id)
	}

	if err := s.display.SelectPropertyChangeInput(head.requestor); err != nil {
		return s.refuse(id, head, selAtom)
	}
	if err := s.display.ChangeProperty32(head.requestor, head.property, s.atoms.Incr, []uint32{uint32(len(payload))}); err != nil {
		return s.refuse(id, head, selAtom)
	}
	if err := s.display.SendSelectionNotify(head.requestor, selAtom, head.target, head.property, head.time); err != nil {
		return fmt.Errorf("outbound: notify INCR start %v: %w", id, err)
	}
	ps.state = awaitingIncrDelete
	ps.incr = &incrSend{requestor: head.requestor, propAtom: head.property, targetAtom: head.target, buf: payload}
	return nil
}

// HandlePropertyDelete services a PropertyNotify(PropertyDelete) tick,
// writing the next INCR chunk for whichever selection's active request
// matches the (window, property) pair. No-op if neither selection has a
// matching in-flight INCR send.
func (s *Server) HandlePropertyDelete(win x11proto.Window, property x11proto.Atom) error {
	for id, ps := range s.perSel {
		if ps.state != awaitingIncrDelete || ps.incr == nil {
			continue
		}
		in := ps.incr
		if in.requestor != win || in.propAtom != property {
			continue
		}
		maxSize := int(s.display.MaxPropertySize())
		remaining := len(in.buf) - in.cursor
		n := remaining
		if n > maxSize {
			n = maxSize
		}
		chunk := in.buf[in.cursor : in.cursor+n]
		if err := s.display.ChangeProperty8(win, property, in.targetAtom, chunk); err != nil {
			return s.advance(id)
		}
		in.cursor += n
		if n == 0 {
			return s.advance(id)
		}
		return nil
	}
	return nil
}

// RefuseAll refuses every queued outbound request for a selection with
// property=None and frees any in-flight INCR buffer. Called when ownership
// leaves Client.
func (s *Server) RefuseAll(id wire.SelectionID) {
	ps := s.ps(id)
	selAtom, ok := s.atoms.AtomForSelection(id)
	if !ok {
		return
	}
	for _, q := range ps.queue {
		if err := s.display.SendSelectionNotify(q.requestor, selAtom, q.target, x11proto.NoAtom, q.time); err != nil {
			log.Printf("outbound: refuse-all %v: %v", id, err)
		}
	}
	ps.queue = nil
	ps.state = idle
	ps.incr = nil
	ps.awaitingType = wire.None
}
