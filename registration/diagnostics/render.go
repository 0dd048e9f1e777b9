// Package diagnostics renders a registration attempt to SVG for offline
// debugging: source/target point samples, the extracted ROI box, and
// accepted correspondence pairs. It sits off the hot path — callers
// invoke it only when a diagnostics path is requested — and is adapted
// from the teacher's canvas-based vector map renderer.
package diagnostics

import (
	"fmt"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/svg"

	"github.com/meshalign/dentalreg/registration"
)

// canvasRenderer is the subset of the SVG/rasterizer renderer interface
// this package draws through (same seam the teacher's vector_renderer.go
// uses to share drawing code between SVG and PNG output).
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// Renderer draws a registration attempt's source/target samples, ROI
// box, and correspondence pairs to SVG.
type Renderer struct {
	Padding float64
}

// NewRenderer returns a Renderer with a default 50-unit padding.
func NewRenderer() *Renderer {
	return &Renderer{Padding: 50}
}

// Attempt is the subset of a registration run worth visualizing.
type Attempt struct {
	Source       []registration.Vec3
	Target       []registration.Vec3
	ROI          *registration.AABB
	Pairs        []registration.CorrespondencePair
}

// RenderToSVG projects onto the XY plane and writes an SVG to w.
func (r *Renderer) RenderToSVG(w io.Writer, a Attempt) error {
	minX, minY, maxX, maxY := r.bounds(a)
	width := (maxX - minX) + 2*r.Padding
	height := (maxY - minY) + 2*r.Padding
	if width <= 0 || height <= 0 {
		return fmt.Errorf("diagnostics: degenerate bounds for render")
	}

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, a, minX, minY, width, height)
	return svgRenderer.Close()
}

func (r *Renderer) bounds(a Attempt) (minX, minY, maxX, maxY float64) {
	minX, minY = math.MaxFloat64, math.MaxFloat64
	maxX, maxY = -math.MaxFloat64, -math.MaxFloat64
	consider := func(x, y float64) {
		minX, minY = math.Min(minX, x), math.Min(minY, y)
		maxX, maxY = math.Max(maxX, x), math.Max(maxY, y)
	}
	for _, p := range a.Source {
		consider(p.X, p.Y)
	}
	for _, p := range a.Target {
		consider(p.X, p.Y)
	}
	if minX > maxX {
		return 0, 0, 1, 1
	}
	return minX, minY, maxX, maxY
}

func (r *Renderer) renderToCanvas(renderer canvasRenderer, a Attempt, minX, minY, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	toCanvas := func(p registration.Vec3) (float64, float64) {
		return (p.X - minX) + r.Padding, (p.Y - minY) + r.Padding
	}

	srcStyle := canvas.DefaultStyle
	srcStyle.Fill = canvas.Paint{Color: canvas.Blue}
	srcStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	for _, p := range a.Source {
		cx, cy := toCanvas(p)
		dot := canvas.Circle(1.2).Translate(cx, cy)
		renderer.RenderPath(dot, srcStyle, canvas.Identity)
	}

	dstStyle := canvas.DefaultStyle
	dstStyle.Fill = canvas.Paint{Color: canvas.Red}
	dstStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	for _, p := range a.Target {
		cx, cy := toCanvas(p)
		dot := canvas.Circle(1.2).Translate(cx, cy)
		renderer.RenderPath(dot, dstStyle, canvas.Identity)
	}

	if a.ROI != nil {
		roiStyle := canvas.DefaultStyle
		roiStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		roiStyle.Stroke = canvas.Paint{Color: canvas.Green}
		roiStyle.StrokeWidth = 1.0
		roiStyle.Dashes = []float64{4, 4}
		x0, y0 := toCanvas(a.ROI.Min)
		x1, y1 := toCanvas(a.ROI.Max)
		path := &canvas.Path{}
		path.MoveTo(x0, y0)
		path.LineTo(x1, y0)
		path.LineTo(x1, y1)
		path.LineTo(x0, y1)
		path.Close()
		renderer.RenderPath(path, roiStyle, canvas.Identity)
	}

	pairStyle := canvas.DefaultStyle
	pairStyle.Stroke = canvas.Paint{Color: canvas.Black}
	pairStyle.StrokeWidth = 0.5
	for _, pr := range a.Pairs {
		x0, y0 := toCanvas(pr.SourcePoint)
		x1, y1 := toCanvas(pr.TargetPoint)
		line := &canvas.Path{}
		line.MoveTo(x0, y0)
		line.LineTo(x1, y1)
		renderer.RenderPath(line, pairStyle, canvas.Identity)
	}
}
