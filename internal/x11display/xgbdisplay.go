package x11display

import (
	"fmt"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xfixes"
	"github.com/jezek/xgb/xproto"

	"github.com/example/x11clipbridge/internal/x11proto"
)

// xgbDisplay is the jezek/xgb-backed Display implementation: a hidden 1x1
// proxy window used both as the ConvertSelection requestor and as the
// target of XFixes selection-ownership notifications.
type xgbDisplay struct {
	conn    *xgb.Conn
	win     xproto.Window
	maxProp uint32

	propertyAtoms map[xproto.Window]map[xproto.Atom]bool
}

// Open connects to the X server named by display (empty string for
// $DISPLAY), creates the hidden proxy window, and arms XFixes selection
// notifications for CLIPBOARD and PRIMARY.
func Open(display string) (Display, error) {
	conn, err := xgb.NewConnDisplay(display)
	if err != nil {
		return nil, fmt.Errorf("x11display: connect: %w", err)
	}
	setup := xproto.Setup(conn)
	if setup == nil {
		conn.Close()
		return nil, fmt.Errorf("x11display: xproto setup unavailable")
	}
	screen := setup.DefaultScreen(conn)
	if screen == nil {
		conn.Close()
		return nil, fmt.Errorf("x11display: default screen unavailable")
	}

	win, err := xproto.NewWindowId(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("x11display: alloc window id: %w", err)
	}
	err = xproto.CreateWindowChecked(
		conn, 0, win, screen.Root,
		0, 0, 1, 1, 0,
		xproto.WindowClassInputOnly, screen.RootVisual,
		xproto.CwEventMask,
		[]uint32{xproto.EventMaskPropertyChange},
	).Check()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("x11display: create proxy window: %w", err)
	}

	if err := xfixes.Init(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("x11display: init xfixes: %w", err)
	}
	if _, err := xfixes.QueryVersion(conn, 5, 0).Reply(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("x11display: xfixes query version: %w", err)
	}

	d := &xgbDisplay{
		conn:          conn,
		win:           win,
		maxProp:       computeMaxPropertySize(setup),
		propertyAtoms: map[xproto.Window]map[xproto.Atom]bool{},
	}

	for _, name := range []string{"CLIPBOARD", "PRIMARY"} {
		selAtom, err := d.InternAtom(name)
		if err != nil {
			conn.Close()
			return nil, err
		}
		const ownerMask = xfixes.SelectionEventMaskSetSelectionOwner |
			xfixes.SelectionEventMaskSelectionWindowDestroy |
			xfixes.SelectionEventMaskSelectionClientClose
		if err := xfixes.SelectSelectionInputChecked(conn, win, xproto.Atom(selAtom), ownerMask).Check(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("x11display: select selection input on %s: %w", name, err)
		}
	}

	return d, nil
}

// computeMaxPropertySize mirrors the spec's guidance to stay safely under
// the server's maximum-request-length limit rather than pushing exactly to
// it: the request length is in 4-byte units, and a 100-byte margin is
// reserved for the rest of the ChangeProperty request.
func computeMaxPropertySize(setup *xproto.SetupInfo) uint32 {
	budget := uint32(setup.MaximumRequestLength)*4 - 100
	if budget == 0 || budget > 256<<10 {
		return 256 << 10
	}
	return budget
}

func (d *xgbDisplay) InternAtom(name string) (x11proto.Atom, error) {
	reply, err := xproto.InternAtom(d.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, fmt.Errorf("x11display: intern atom %q: %w", name, err)
	}
	return x11proto.Atom(reply.Atom), nil
}

func (d *xgbDisplay) SelectionWindow() x11proto.Window { return x11proto.Window(d.win) }

func (d *xgbDisplay) ConvertSelection(selection, target, property x11proto.Atom, requestor x11proto.Window, t x11proto.Timestamp) error {
	return xproto.ConvertSelectionChecked(
		d.conn, xproto.Window(requestor), xproto.Atom(selection), xproto.Atom(target), xproto.Atom(property), xproto.Timestamp(t),
	).Check()
}

func (d *xgbDisplay) SetSelectionOwner(selection x11proto.Atom, owner x11proto.Window, t x11proto.Timestamp) error {
	return xproto.SetSelectionOwnerChecked(d.conn, xproto.Window(owner), xproto.Atom(selection), xproto.Timestamp(t)).Check()
}

func (d *xgbDisplay) GetProperty(win x11proto.Window, property x11proto.Atom, del bool) (PropertyValue, error) {
	reply, err := xproto.GetProperty(
		d.conn, del, xproto.Window(win), xproto.Atom(property), xproto.AtomAny, 0, d.maxProp/4,
	).Reply()
	if err != nil {
		return PropertyValue{}, fmt.Errorf("x11display: get property: %w", err)
	}
	if reply.Format == 0 && reply.ValueLen == 0 {
		return PropertyValue{}, fmt.Errorf("x11display: property does not exist")
	}
	val := PropertyValue{Type: x11proto.Atom(reply.Type), Format: reply.Format}
	switch reply.Format {
	case 32:
		val.Words = make([]uint32, 0, len(reply.Value)/4)
		for i := 0; i+4 <= len(reply.Value); i += 4 {
			val.Words = append(val.Words, xgb.Get32(reply.Value[i:]))
		}
	default:
		val.Bytes = append([]byte(nil), reply.Value...)
	}
	return val, nil
}

func (d *xgbDisplay) ChangeProperty8(win x11proto.Window, property, typ x11proto.Atom, data []byte) error {
	return xproto.ChangePropertyChecked(
		d.conn, xproto.PropModeReplace, xproto.Window(win), xproto.Atom(property), xproto.Atom(typ), 8, uint32(len(data)), data,
	).Check()
}

func (d *xgbDisplay) ChangeProperty32(win x11proto.Window, property, typ x11proto.Atom, words []uint32) error {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		buf[i*4] = byte(w)
		buf[i*4+1] = byte(w >> 8)
		buf[i*4+2] = byte(w >> 16)
		buf[i*4+3] = byte(w >> 24)
	}
	return xproto.ChangePropertyChecked(
		d.conn, xproto.PropModeReplace, xproto.Window(win), xproto.Atom(property), xproto.Atom(typ), 32, uint32(len(words)), buf,
	).Check()
}

func (d *xgbDisplay) DeleteProperty(win x11proto.Window, property x11proto.Atom) error {
	return xproto.DeletePropertyChecked(d.conn, xproto.Window(win), xproto.Atom(property)).Check()
}

func (d *xgbDisplay) SelectPropertyChangeInput(win x11proto.Window) error {
	return xproto.ChangeWindowAttributesChecked(
		d.conn, xproto.Window(win), xproto.CwEventMask, []uint32{xproto.EventMaskPropertyChange},
	).Check()
}

func (d *xgbDisplay) SendSelectionNotify(requestor x11proto.Window, selection, target, property x11proto.Atom, t x11proto.Timestamp) error {
	ev := xproto.SelectionNotifyEvent{
		Time:      xproto.Timestamp(t),
		Requestor: xproto.Window(requestor),
		Selection: xproto.Atom(selection),
		Target:    xproto.Atom(target),
		Property:  xproto.Atom(property),
	}
	return xproto.SendEventChecked(d.conn, false, xproto.Window(requestor), 0, string(ev.Bytes())).Check()
}

func (d *xgbDisplay) MaxPropertySize() uint32 { return d.maxProp }

func (d *xgbDisplay) Sync() error {
	_, err := xproto.GetInputFocus(d.conn).Reply()
	return err
}

// PollEvent drains events until it finds one the bridge dispatches on, or
// the queue is empty. Events outside the selection protocol (focus churn,
// expose events on the 1x1 proxy window) are silently skipped rather than
// surfaced as a meaningless Event value.
func (d *xgbDisplay) PollEvent() (Event, bool, error) {
	for {
		raw, err := d.conn.PollForEvent()
		if err != nil {
			return nil, false, fmt.Errorf("x11display: poll event: %w", err)
		}
		if raw == nil {
			return nil, false, nil
		}
		ev, ok, err := d.translate(raw)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return ev, true, nil
		}
	}
}

func (d *xgbDisplay) translate(ev xgb.Event) (Event, bool, error) {
	switch e := ev.(type) {
	case xfixes.SelectionNotifyEvent:
		return SelectionOwnerChanged{Selection: x11proto.Atom(e.Selection), Owner: x11proto.Window(e.Owner)}, true, nil
	case xproto.SelectionNotifyEvent:
		return SelectionNotify{
			Requestor: x11proto.Window(e.Requestor),
			Selection: x11proto.Atom(e.Selection),
			Target:    x11proto.Atom(e.Target),
			Property:  x11proto.Atom(e.Property),
		}, true, nil
	case xproto.SelectionRequestEvent:
		return SelectionRequest{
			Owner:     x11proto.Window(e.Owner),
			Requestor: x11proto.Window(e.Requestor),
			Selection: x11proto.Atom(e.Selection),
			Target:    x11proto.Atom(e.Target),
			Property:  x11proto.Atom(e.Property),
			Time:      x11proto.Timestamp(e.Time),
		}, true, nil
	case xproto.SelectionClearEvent:
		return SelectionClear{Selection: x11proto.Atom(e.Selection)}, true, nil
	case xproto.PropertyNotifyEvent:
		return PropertyDelta{
			Window:   x11proto.Window(e.Window),
			Property: x11proto.Atom(e.Atom),
			Deleted:  e.State == xproto.PropertyDelete,
		}, true, nil
	default:
		// Events outside the selection protocol (focus changes, expose on
		// the 1x1 proxy window, etc.) are not meaningful to the bridge.
		return nil, false, nil
	}
}

func (d *xgbDisplay) Close() error {
	d.conn.Close()
	return nil
}
