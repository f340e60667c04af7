// Package atoms caches interned X11 atoms for the fixed set of MIME targets
// the bridge recognizes, plus the control atoms needed to run the selection
// protocol.
package atoms

import (
	"fmt"

	"github.com/example/x11clipbridge/internal/wire"
	"github.com/example/x11clipbridge/internal/x11proto"
)

// formatNames lists, per ClipboardType, the X11 target atom names considered
// equivalent representations, in the order a match should be preferred.
var formatNames = map[wire.ClipboardType][]string{
	wire.UTF8Text:  {"UTF8_STRING", "text/plain;charset=UTF-8", "text/plain;charset=utf-8"},
	wire.ImagePNG:  {"image/png"},
	wire.ImageBMP:  {"image/bmp", "image/x-bmp", "image/x-MS-bmp", "image/x-win-bitmap"},
	wire.ImageTIFF: {"image/tiff"},
	wire.ImageJPG:  {"image/jpeg"},
}

// OrderedTypes is the enumeration order used whenever a catalog is
// negotiated or a TARGETS list is synthesized.
var OrderedTypes = []wire.ClipboardType{
	wire.UTF8Text,
	wire.ImagePNG,
	wire.ImageBMP,
	wire.ImageTIFF,
	wire.ImageJPG,
}

// Interner is the minimal X11 surface Build needs: intern-atom-by-name.
type Interner interface {
	InternAtom(name string) (x11proto.Atom, error)
}

// Table holds every atom the bridge needs, interned once at startup.
type Table struct {
	Targets   x11proto.Atom
	Incr      x11proto.Atom
	Multiple  x11proto.Atom
	Clipboard x11proto.Atom
	Primary   x11proto.Atom

	byType map[wire.ClipboardType][]x11proto.Atom
}

// Build interns every control atom and every MIME target atom. Interning
// failure is fatal at init, per spec.
func Build(in Interner) (*Table, error) {
	t := &Table{byType: make(map[wire.ClipboardType][]x11proto.Atom, len(OrderedTypes))}

	intern := func(name string) (x11proto.Atom, error) {
		a, err := in.InternAtom(name)
		if err != nil {
			return 0, fmt.Errorf("intern atom %q: %w", name, err)
		}
		return a, nil
	}

	var err error
	if t.Targets, err = intern("TARGETS"); err != nil {
		return nil, err
	}
	if t.Incr, err = intern("INCR"); err != nil {
		return nil, err
	}
	if t.Multiple, err = intern("MULTIPLE"); err != nil {
		return nil, err
	}
	if t.Clipboard, err = intern("CLIPBOARD"); err != nil {
		return nil, err
	}
	if t.Primary, err = intern("PRIMARY"); err != nil {
		return nil, err
	}

	for _, ct := range OrderedTypes {
		names := formatNames[ct]
		list := make([]x11proto.Atom, 0, len(names))
		for _, name := range names {
			a, err := intern(name)
			if err != nil {
				return nil, err
			}
			list = append(list, a)
		}
		t.byType[ct] = list
	}
	return t, nil
}

// AtomForSelection maps a wire selection id to its X11 selection atom.
func (t *Table) AtomForSelection(id wire.SelectionID) (x11proto.Atom, bool) {
	switch id {
	case wire.Clipboard:
		return t.Clipboard, true
	case wire.Primary:
		return t.Primary, true
	default:
		return 0, false
	}
}

// AtomsForType returns the atoms recognized for a ClipboardType, in the
// declared preference order.
func (t *Table) AtomsForType(ct wire.ClipboardType) []x11proto.Atom {
	return t.byType[ct]
}

// SelectionForAtom is the inverse of AtomForSelection, used by the
// Coordinator to route a PropertyNotify on the bridge's own selection
// window back to the selection it belongs to.
func (t *Table) SelectionForAtom(a x11proto.Atom) (wire.SelectionID, bool) {
	switch a {
	case t.Clipboard:
		return wire.Clipboard, true
	case t.Primary:
		return wire.Primary, true
	default:
		return 0, false
	}
}

// ClassifyTarget maps an X11 target atom back to a ClipboardType. Format
// groups are walked in declared order and, within a group, atoms in
// declared order; the first match wins. The inner loop advances its own
// index — a prior implementation of this walk is known to have advanced the
// outer index instead, which only happened to work because most groups have
// few atoms.
func (t *Table) ClassifyTarget(a x11proto.Atom) (wire.ClipboardType, bool) {
	for _, ct := range OrderedTypes {
		group := t.byType[ct]
		for j := range group {
			if group[j] == a {
				return ct, true
			}
		}
	}
	return wire.None, false
}
