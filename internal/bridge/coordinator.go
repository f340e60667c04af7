// Package bridge wires the selection, inbound and outbound components
// together behind the single-consumer dispatch loop: one goroutine pumps
// decoded daemon messages, one pumps X11 events, and the Coordinator is the
// sole reader of both, so no locking is needed around the protocol state.
package bridge

import (
	"context"
	"fmt"
	"log"

	"github.com/example/x11clipbridge/internal/atoms"
	"github.com/example/x11clipbridge/internal/inbound"
	"github.com/example/x11clipbridge/internal/outbound"
	"github.com/example/x11clipbridge/internal/selection"
	"github.com/example/x11clipbridge/internal/wire"
	"github.com/example/x11clipbridge/internal/x11display"
	"github.com/example/x11clipbridge/internal/x11proto"
)

// Sender is the DaemonChannel write surface the Coordinator needs.
type Sender interface {
	Send(msgType wire.MessageType, arg1, arg2 uint32, payload []byte) error
}

// Coordinator is the bridge's event loop: it owns the SelectionState and
// drives InboundFetcher and OutboundServer from two fan-in sources.
type Coordinator struct {
	display x11display.Display
	atoms   *atoms.Table
	sel     *selection.State
	send    Sender
	verbose bool

	in  *inbound.Fetcher
	out *outbound.Server
}

// New builds a Coordinator and the InboundFetcher/OutboundServer it drives.
// atomTable must already be built (Build is called once at startup, fatal
// on failure, per the atoms package's own contract).
func New(display x11display.Display, atomTable *atoms.Table, send Sender, verbose bool) *Coordinator {
	c := &Coordinator{
		display: display,
		atoms:   atomTable,
		sel:     selection.New(),
		send:    send,
		verbose: verbose,
	}
	c.in = inbound.New(display, atomTable, c.sel, send, c, verbose)
	c.out = outbound.New(display, atomTable, c.sel, send, c, verbose)
	return c
}

// ChangeOwner applies an ownership transition and performs the cleanup the
// spec assigns to it: cancelling queues on the losing side and, on a
// Guest->None transition, notifying the daemon the local selection was
// abandoned. Satisfies both inbound.OwnerChanger and outbound.OwnerChanger.
func (c *Coordinator) ChangeOwner(id wire.SelectionID, newOwner selection.Owner) {
	t := c.sel.SetOwner(id, newOwner)
	if t.LeftGuest() {
		c.in.CancelAll(id)
	}
	if t.LeftClient() {
		c.out.RefuseAll(id)
	}
	if t.GuestReleased() {
		if err := c.send.Send(wire.ClipboardRelease, uint32(id), 0, nil); err != nil {
			log.Printf("bridge: send CLIPBOARD_RELEASE for %v: %v", id, err)
		}
	}
}

// HandleDaemonMessage dispatches one decoded DaemonChannel message to the
// inbound or outbound component that owns it.
func (c *Coordinator) HandleDaemonMessage(m wire.Message) error {
	id, err := wire.ParseSelectionID(m.Arg1)
	if err != nil && m.Type != wire.GuestXorgResolution {
		if c.verbose {
			log.Printf("bridge: dropping message with invalid selection: %v", err)
		}
		return nil
	}
	switch m.Type {
	case wire.GuestXorgResolution:
		// Resolution reports are not handled by this bridge, which has no
		// screen-geometry component; the message is ignored.
		return nil
	case wire.ClipboardGrab:
		types := wire.DecodeClipboardGrab(m.Payload)
		return c.out.HandleClipboardGrab(id, types)
	case wire.ClipboardRequest:
		ct := wire.ClipboardType(m.Arg2)
		return c.in.HandleClipboardRequest(id, ct)
	case wire.ClipboardData:
		ct := wire.ClipboardType(m.Arg2)
		return c.out.HandleClipboardData(id, ct, m.Payload)
	case wire.ClipboardRelease:
		return c.out.HandleClipboardRelease(id)
	default:
		if c.verbose {
			log.Printf("bridge: ignoring unknown message type %v", m.Type)
		}
		return nil
	}
}

// HandleX11Event dispatches one X11 event to the inbound or outbound
// component (or SelectionState directly) that owns it.
func (c *Coordinator) HandleX11Event(ev x11display.Event) error {
	switch e := ev.(type) {
	case x11display.SelectionOwnerChanged:
		return c.handleOwnerChanged(e)
	case x11display.SelectionNotify:
		id, ok := c.atoms.SelectionForAtom(e.Selection)
		if !ok {
			return nil
		}
		return c.in.HandleSelectionNotify(id, e.Target, e.Property)
	case x11display.SelectionRequest:
		id, ok := c.atoms.SelectionForAtom(e.Selection)
		if !ok {
			return c.display.SendSelectionNotify(e.Requestor, e.Selection, e.Target, x11proto.NoAtom, e.Time)
		}
		return c.out.HandleSelectionRequest(id, e)
	case x11display.SelectionClear:
		// The authoritative signal is the XFixes SelectionOwnerChanged event
		// that follows; nothing to do here.
		return nil
	case x11display.PropertyDelta:
		if e.Deleted {
			return c.out.HandlePropertyDelete(e.Window, e.Property)
		}
		if id, ok := c.atoms.SelectionForAtom(e.Property); ok {
			return c.in.HandlePropertyNewValue(id, e.Property)
		}
		return nil
	default:
		return fmt.Errorf("bridge: unknown event type %T", e)
	}
}

func (c *Coordinator) handleOwnerChanged(e x11display.SelectionOwnerChanged) error {
	id, ok := c.atoms.SelectionForAtom(e.Selection)
	if !ok {
		return nil
	}
	if e.Owner == c.display.SelectionWindow() {
		// We are the one who just asserted ownership (outbound.Server
		// already applied OwnerClient directly); this echo is ignored.
		return nil
	}
	if e.Owner == x11proto.NoWindow {
		c.ChangeOwner(id, selection.OwnerNone)
		return nil
	}
	c.ChangeOwner(id, selection.OwnerNone)
	if err := c.in.BeginTargetsNegotiation(id); err != nil {
		return fmt.Errorf("bridge: begin targets negotiation for %v: %w", id, err)
	}
	return nil
}

// Run pumps daemon messages and X11 events until ctx is cancelled or either
// source ends. It is the single consumer of both channels, so no locking is
// needed around SelectionState or the inbound/outbound queues.
func (c *Coordinator) Run(ctx context.Context, daemonMsgs <-chan wire.Message, x11Events <-chan x11display.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-daemonMsgs:
			if !ok {
				return nil
			}
			if err := c.HandleDaemonMessage(m); err != nil {
				log.Printf("bridge: daemon message: %v", err)
			}
		case ev, ok := <-x11Events:
			if !ok {
				return nil
			}
			if err := c.HandleX11Event(ev); err != nil {
				log.Printf("bridge: x11 event: %v", err)
			}
		}
	}
}
