// Package scene tracks which sources are shown and pairs each visible
// source with its transfer function. Bounds estimation and frame assembly
// both read the visible set from here, so geometry and transfer functions
// always use the same source identity.
package scene

import (
	"fmt"

	"golang.org/x/exp/slices"

	"volshot/pkg/bounds"
	"volshot/pkg/source"
	"volshot/pkg/transfer"
	"volshot/pkg/transform"
)

// MissingTransferFunctionError reports a visible source without a
// transfer function.
type MissingTransferFunctionError struct {
	Source string
}

func (e *MissingTransferFunctionError) Error() string {
	return fmt.Sprintf("missing transfer function for source %s", e.Source)
}

// Entry is a source registered with the scene.
type Entry struct {
	Source source.Source

	// Volatile is an optional preview variant of Source. When set it is
	// the one that gets rendered.
	Volatile source.Source

	Active bool
}

// key is the identity the entry is rendered under.
func (e *Entry) key() source.Source {
	if e.Volatile != nil {
		return e.Volatile
	}
	return e.Source
}

// Scene is the set of sources of a capture session.
type Scene struct {
	entries []*Entry
	setups  map[source.Source]*transfer.Function
}

// New returns an empty scene.
func New() *Scene {
	return &Scene{setups: make(map[source.Source]*transfer.Function)}
}

// Add registers an active source. tf may be nil and set later; volatile
// may be nil.
func (s *Scene) Add(src, volatile source.Source, tf *transfer.Function) *Entry {
	e := &Entry{Source: src, Volatile: volatile, Active: true}
	s.entries = append(s.entries, e)
	if tf != nil {
		s.SetTransferFunction(e, tf)
	}
	return e
}

// SetTransferFunction pairs tf with the entry's source and its volatile alias.
func (s *Scene) SetTransferFunction(e *Entry, tf *transfer.Function) {
	s.setups[e.Source] = tf
	if e.Volatile != nil {
		s.setups[e.Volatile] = tf
	}
}

// TransferFunction returns the function registered for src.
func (s *Scene) TransferFunction(src source.Source) (*transfer.Function, bool) {
	tf, ok := s.setups[src]
	return tf, ok
}

// SetActive shows or hides the entry for src.
func (s *Scene) SetActive(src source.Source, active bool) error {
	i := slices.IndexFunc(s.entries, func(e *Entry) bool { return e.Source == src })
	if i < 0 {
		return fmt.Errorf("source %s is not part of the scene", src.Name())
	}
	s.entries[i].Active = active
	return nil
}

// Entries returns the registered entries in insertion order.
func (s *Scene) Entries() []*Entry {
	return slices.Clone(s.entries)
}

// Visible returns the entries that are active and have data at t.
func (s *Scene) Visible(t int) []*Entry {
	var out []*Entry
	for _, e := range s.entries {
		if e.Active && e.key().Present(t) {
			out = append(out, e)
		}
	}
	return out
}

// Items returns every entry as a bounds item, flagged visible when it is
// active and present at t.
func (s *Scene) Items(t int) []bounds.Item {
	items := make([]bounds.Item, 0, len(s.entries))
	for _, e := range s.entries {
		items = append(items, bounds.Item{
			Source:  e.key(),
			Visible: e.Active && e.key().Present(t),
		})
	}
	return items
}

// Stack is one volume handed to the renderer.
type Stack struct {
	Source    source.Source
	Timepoint int
}

// Frame is everything the renderer needs for one pass. Stacks and
// TransferFunctions are parallel slices.
type Frame struct {
	Timepoint int
	Level     int

	Stacks            []Stack
	TransferFunctions []*transfer.Function

	ViewProjection transform.Mat4
}

// Frame assembles the renderable frame for timepoint t.
func (s *Scene) Frame(t, level int, viewProjection transform.Mat4) (*Frame, error) {
	f := &Frame{Timepoint: t, Level: level, ViewProjection: viewProjection}
	for _, e := range s.Visible(t) {
		key := e.key()
		tf, ok := s.setups[key]
		if !ok {
			tf, ok = s.setups[e.Source]
		}
		if !ok || tf == nil {
			return nil, &MissingTransferFunctionError{Source: key.Name()}
		}
		f.Stacks = append(f.Stacks, Stack{Source: key, Timepoint: t})
		f.TransferFunctions = append(f.TransferFunctions, tf)
	}
	return f, nil
}
