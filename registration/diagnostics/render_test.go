package diagnostics

import (
	"bytes"
	"strings"
	"testing"

	"github.com/meshalign/dentalreg/registration"
)

func TestRenderToSVGProducesWellFormedOutput(t *testing.T) {
	r := NewRenderer()
	attempt := Attempt{
		Source: []registration.Vec3{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 5, Y: 10}},
		Target: []registration.Vec3{{X: 1, Y: 1}, {X: 11, Y: 1}, {X: 6, Y: 11}},
		ROI: &registration.AABB{
			Min: registration.Vec3{X: -2, Y: -2},
			Max: registration.Vec3{X: 12, Y: 12},
		},
		Pairs: []registration.CorrespondencePair{
			{SourcePoint: registration.Vec3{X: 0, Y: 0}, TargetPoint: registration.Vec3{X: 1, Y: 1}},
		},
	}

	var buf bytes.Buffer
	if err := r.RenderToSVG(&buf, attempt); err != nil {
		t.Fatalf("RenderToSVG: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "<svg") {
		t.Errorf("expected SVG output to contain an <svg> tag, got: %s", out[:min(len(out), 200)])
	}
}

func TestRenderToSVGHandlesNilROI(t *testing.T) {
	r := NewRenderer()
	attempt := Attempt{
		Source: []registration.Vec3{{X: 0, Y: 0}, {X: 10, Y: 0}},
		Target: []registration.Vec3{{X: 0, Y: 5}, {X: 10, Y: 5}},
	}
	var buf bytes.Buffer
	if err := r.RenderToSVG(&buf, attempt); err != nil {
		t.Fatalf("RenderToSVG with nil ROI: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("expected non-empty SVG output")
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
