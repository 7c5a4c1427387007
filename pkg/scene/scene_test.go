package scene

import (
	"errors"
	"testing"

	"volshot/internal/models"
	"volshot/pkg/source"
	"volshot/pkg/transfer"
	"volshot/pkg/transform"
)

func newSource(t *testing.T, name string, timepoints int) source.Source {
	t.Helper()
	p, err := source.NewPyramid(name, models.NewVolume(4, 4, 4), source.PyramidOptions{Timepoints: timepoints})
	if err != nil {
		t.Fatalf("Failed to create source: %v", err)
	}
	return p
}

func TestVisible(t *testing.T) {
	s := New()
	a := newSource(t, "a", 1)
	b := newSource(t, "b", 2)
	s.Add(a, nil, transfer.Default("a"))
	s.Add(b, nil, transfer.Default("b"))

	if got := len(s.Visible(0)); got != 2 {
		t.Errorf("Expected 2 visible sources at t=0, got %d", got)
	}
	if got := s.Visible(1); len(got) != 1 || got[0].Source != b {
		t.Errorf("Expected only b at t=1, got %v", got)
	}

	if err := s.SetActive(b, false); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}
	items := s.Items(0)
	if len(items) != 2 || !items[0].Visible || items[1].Visible {
		t.Errorf("Expected a visible and b hidden, got %+v", items)
	}

	if err := s.SetActive(newSource(t, "stranger", 1), true); err == nil {
		t.Errorf("Expected error for unknown source")
	}
}

func TestFrameAssembly(t *testing.T) {
	s := New()
	a := newSource(t, "a", 1)
	tfA := transfer.Default("a")
	s.Add(a, nil, tfA)

	vp := transform.Identity4()
	f, err := s.Frame(0, 2, vp)
	if err != nil {
		t.Fatalf("Frame failed: %v", err)
	}
	if len(f.Stacks) != 1 || f.Stacks[0].Source != a || f.TransferFunctions[0] != tfA {
		t.Errorf("Unexpected frame contents: %+v", f)
	}
	if f.Level != 2 || f.ViewProjection != vp {
		t.Errorf("Expected level and view-projection to pass through")
	}
}

// TestVolatileAlias verifies that the preview variant is rendered with the
// transfer function registered for its source
func TestVolatileAlias(t *testing.T) {
	s := New()
	a := newSource(t, "a", 1)
	preview := source.NewLevelClamp(a, 1)
	tf := transfer.Default("a")
	s.Add(a, preview, tf)

	f, err := s.Frame(0, 0, transform.Identity4())
	if err != nil {
		t.Fatalf("Frame failed: %v", err)
	}
	if f.Stacks[0].Source != preview {
		t.Errorf("Expected the volatile variant to be rendered")
	}
	if got, ok := s.TransferFunction(preview); !ok || got != tf {
		t.Errorf("Expected the transfer function under the volatile alias")
	}
	if s.Items(0)[0].Source != preview {
		t.Errorf("Expected bounds to use the same identity as rendering")
	}
}

func TestMissingTransferFunction(t *testing.T) {
	s := New()
	s.Add(newSource(t, "bare", 1), nil, nil)

	_, err := s.Frame(0, 0, transform.Identity4())
	var missing *MissingTransferFunctionError
	if !errors.As(err, &missing) {
		t.Fatalf("Expected MissingTransferFunctionError, got %v", err)
	}
	if missing.Source != "bare" {
		t.Errorf("Expected offending source 'bare', got %q", missing.Source)
	}
}
