package registration

import "testing"

type fakeGeomSource struct {
	pts     []Vec3
	normals []Vec3
}

func (f fakeGeomSource) Vertices() []Vec3 { return f.pts }
func (f fakeGeomSource) Normals() []Vec3  { return f.normals }
func (f fakeGeomSource) Bounds() AABB     { return boundsOf(f.pts) }

func gridPoints(n int, spacing float64) []Vec3 {
	out := make([]Vec3, 0, n*n*n)
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			for z := 0; z < n; z++ {
				out = append(out, Vec3{X: float64(x) * spacing, Y: float64(y) * spacing, Z: float64(z) * spacing})
			}
		}
	}
	return out
}

func TestExtractROIKeepsNearbyPoints(t *testing.T) {
	larger := fakeGeomSource{pts: gridPoints(10, 2)} // 296 of 1000 points lie within 15 of the origin
	smaller := fakeGeomSource{pts: []Vec3{{X: 0, Y: 0, Z: 0}}}
	result := ExtractROI(larger, smaller, 15, 1)
	if result.Fallback {
		t.Fatal("expected the ROI to be large enough to avoid fallback, got fallback")
	}
	for _, p := range result.Points {
		if p.Dist(Vec3{}) > 15 {
			t.Errorf("ROI point %v farther than radius 15 from query point", p)
		}
	}
}

func TestExtractROIFallsBackWhenTooFewPoints(t *testing.T) {
	larger := fakeGeomSource{pts: gridPoints(10, 5)}
	smaller := fakeGeomSource{pts: []Vec3{{X: 0, Y: 0, Z: 0}}}
	result := ExtractROI(larger, smaller, 0.1, 1)
	if !result.Fallback {
		t.Fatal("expected fallback to the full mesh when the ROI radius excludes nearly all points")
	}
	if len(result.Points) != len(larger.pts) {
		t.Errorf("fallback Points len = %d, want full mesh len %d", len(result.Points), len(larger.pts))
	}
}

func TestIsFaceVsJawDetectsSizeRatio(t *testing.T) {
	face := fakeGeomSource{pts: []Vec3{{X: -75}, {X: 75}}}
	jaw := fakeGeomSource{pts: []Vec3{{X: -20}, {X: 20}}}
	larger, smaller, ok := IsFaceVsJaw(face, jaw)
	if !ok {
		t.Fatal("expected a 1.5x size-ratio split to be detected")
	}
	if larger.Bounds().MaxExtent() != face.Bounds().MaxExtent() {
		t.Error("expected face to be identified as the larger geometry")
	}
	if smaller.Bounds().MaxExtent() != jaw.Bounds().MaxExtent() {
		t.Error("expected jaw to be identified as the smaller geometry")
	}
}

func TestIsFaceVsJawRejectsSimilarSizes(t *testing.T) {
	a := fakeGeomSource{pts: []Vec3{{X: -30}, {X: 30}}}
	b := fakeGeomSource{pts: []Vec3{{X: -28}, {X: 28}}}
	_, _, ok := IsFaceVsJaw(a, b)
	if ok {
		t.Error("expected similarly-sized geometries not to trigger the face/jaw split")
	}
}
