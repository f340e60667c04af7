package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/example/x11clipbridge/internal/atoms"
	"github.com/example/x11clipbridge/internal/selection"
	"github.com/example/x11clipbridge/internal/wire"
	"github.com/example/x11clipbridge/internal/x11display"
	"github.com/example/x11clipbridge/internal/x11display/x11displaytest"
)

type fakeSender struct {
	sent []wire.Message
}

func (f *fakeSender) Send(t wire.MessageType, a1, a2 uint32, payload []byte) error {
	f.sent = append(f.sent, wire.Message{Type: t, Arg1: a1, Arg2: a2, Payload: payload})
	return nil
}

func setup(t *testing.T) (*Coordinator, *x11displaytest.Fake, *atoms.Table, *fakeSender) {
	t.Helper()
	disp := x11displaytest.New()
	at, err := atoms.Build(disp)
	if err != nil {
		t.Fatalf("atoms.Build: %v", err)
	}
	sender := &fakeSender{}
	c := New(disp, at, sender, false)
	return c, disp, at, sender
}

func TestOwnerChangedToLocalAppBeginsTargetsNegotiation(t *testing.T) {
	c, disp, at, _ := setup(t)

	if err := c.HandleX11Event(x11display.SelectionOwnerChanged{Selection: at.Clipboard, Owner: 999}); err != nil {
		t.Fatalf("HandleX11Event: %v", err)
	}
	if len(disp.ConvertCalls) != 1 || disp.ConvertCalls[0].Target != at.Targets {
		t.Fatalf("expected a TARGETS ConvertSelection call, got %+v", disp.ConvertCalls)
	}
}

func TestClipboardReleaseSentWhenGuestOwnershipLost(t *testing.T) {
	c, _, at, sender := setup(t)

	c.sel.RecordTypes(wire.Clipboard, []selection.TypeAtom{{Type: wire.UTF8Text, Atom: at.AtomsForType(wire.UTF8Text)[0]}})
	c.sel.SetOwner(wire.Clipboard, selection.OwnerGuest)

	if err := c.HandleX11Event(x11display.SelectionOwnerChanged{Selection: at.Clipboard, Owner: 0}); err != nil {
		t.Fatalf("HandleX11Event: %v", err)
	}

	found := false
	for _, m := range sender.sent {
		if m.Type == wire.ClipboardRelease {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a CLIPBOARD_RELEASE, got %+v", sender.sent)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	c, _, _, _ := setup(t)

	daemonMsgs := make(chan wire.Message)
	x11Events := make(chan x11display.Event)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, daemonMsgs, x11Events) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestRunDispatchesDaemonMessage(t *testing.T) {
	c, _, at, _ := setup(t)
	c.sel.RecordTypes(wire.Clipboard, []selection.TypeAtom{{Type: wire.UTF8Text, Atom: at.AtomsForType(wire.UTF8Text)[0]}})

	daemonMsgs := make(chan wire.Message, 1)
	x11Events := make(chan x11display.Event)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	daemonMsgs <- wire.Message{Type: wire.ClipboardGrab, Arg1: uint32(wire.Clipboard), Payload: wire.EncodeClipboardGrab([]wire.ClipboardType{wire.UTF8Text})}

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, daemonMsgs, x11Events) }()

	// Give the single dispatch goroutine a chance to process the already
	// queued message, then stop it; ownership is only inspected after Run
	// has returned, so there is no concurrent access to Coordinator state.
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if c.sel.Owner(wire.Clipboard) != selection.OwnerClient {
		t.Fatalf("expected ownership Client after CLIPBOARD_GRAB, got %v", c.sel.Owner(wire.Clipboard))
	}
}
