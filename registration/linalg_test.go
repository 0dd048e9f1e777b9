package registration

import (
	"math"
	"testing"
)

const testEpsilon = 1e-6

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < testEpsilon
}

func vecAlmostEqual(a, b Vec3) bool {
	return almostEqual(a.X, b.X) && almostEqual(a.Y, b.Y) && almostEqual(a.Z, b.Z)
}

func cubeFixture() []Vec3 {
	return []Vec3{
		{X: 0, Y: 0, Z: 0}, {X: 10, Y: 0, Z: 0},
		{X: 0, Y: 10, Z: 0}, {X: 0, Y: 0, Z: 10},
		{X: 10, Y: 10, Z: 0}, {X: 10, Y: 0, Z: 10},
		{X: 0, Y: 10, Z: 10}, {X: 10, Y: 10, Z: 10},
	}
}

func TestKabschIdentityFit(t *testing.T) {
	pts := cubeFixture()
	transform, err := Kabsch(pts, pts)
	if err != nil {
		t.Fatalf("Kabsch: %v", err)
	}
	for _, p := range pts {
		if got := transform.Apply(p); !vecAlmostEqual(got, p) {
			t.Errorf("Apply(%v) = %v, want %v", p, got, p)
		}
	}
}

func TestKabschRecoversTranslation(t *testing.T) {
	pts := cubeFixture()
	shift := Vec3{X: 4, Y: -7, Z: 2.5}
	dst := make([]Vec3, len(pts))
	for i, p := range pts {
		dst[i] = p.Add(shift)
	}
	transform, err := Kabsch(pts, dst)
	if err != nil {
		t.Fatalf("Kabsch: %v", err)
	}
	if !vecAlmostEqual(transform.T, shift) {
		t.Errorf("T = %v, want %v", transform.T, shift)
	}
	identity := [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	if !matAlmostEqual(transform.R, identity) {
		t.Errorf("R = %v, want identity", transform.R)
	}
}

func TestKabschRecoversRotation(t *testing.T) {
	pts := cubeFixture()
	rot := EulerXYZ(0, 0, 37)
	dst := make([]Vec3, len(pts))
	for i, p := range pts {
		dst[i] = applyRot(rot, p)
	}
	transform, err := Kabsch(pts, dst)
	if err != nil {
		t.Fatalf("Kabsch: %v", err)
	}
	for _, p := range pts {
		want := applyRot(rot, p)
		if got := transform.Apply(p); !vecAlmostEqual(got, want) {
			t.Errorf("Apply(%v) = %v, want %v", p, got, want)
		}
	}
}

func TestKabschRotationIsOrthogonal(t *testing.T) {
	pts := cubeFixture()
	rot := EulerXYZ(12, -5, 80)
	dst := make([]Vec3, len(pts))
	for i, p := range pts {
		dst[i] = applyRot(rot, p)
	}
	transform, err := Kabsch(pts, dst)
	if err != nil {
		t.Fatalf("Kabsch: %v", err)
	}
	rt := mat3Transpose(transform.R)
	product := mat3Mul(rt, transform.R)
	identity := [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	if !matAlmostEqual(product, identity) {
		t.Errorf("R^T R = %v, want identity (R not orthogonal)", product)
	}
	if det := det3(transform.R); math.Abs(det-1) > testEpsilon {
		t.Errorf("det(R) = %v, want 1 (reflection not corrected)", det)
	}
}

func TestKabschDeterministic(t *testing.T) {
	pts := cubeFixture()
	shift := Vec3{X: 1, Y: 2, Z: 3}
	dst := make([]Vec3, len(pts))
	for i, p := range pts {
		dst[i] = p.Add(shift)
	}
	a, errA := Kabsch(pts, dst)
	b, errB := Kabsch(pts, dst)
	if errA != nil || errB != nil {
		t.Fatalf("Kabsch errors: %v, %v", errA, errB)
	}
	if a.R != b.R || a.T != b.T {
		t.Errorf("Kabsch is not deterministic: %v != %v", a, b)
	}
}

func TestUmeyamaRecoversScale(t *testing.T) {
	pts := cubeFixture()
	const scale = 1.8
	rot := EulerXYZ(0, 20, 0)
	shift := Vec3{X: 3, Y: 3, Z: 3}
	dst := make([]Vec3, len(pts))
	for i, p := range pts {
		r := applyRot(rot, p)
		dst[i] = r.Scale(scale).Add(shift)
	}
	transform, err := Umeyama(pts, dst)
	if err != nil {
		t.Fatalf("Umeyama: %v", err)
	}
	if !almostEqual(transform.S, scale) {
		t.Errorf("S = %v, want %v", transform.S, scale)
	}
	for _, p := range pts {
		got := transform.Apply(p)
		want := applyRot(rot, p).Scale(scale).Add(shift)
		if !vecAlmostEqual(got, want) {
			t.Errorf("Apply(%v) = %v, want %v", p, got, want)
		}
	}
}

func TestUmeyamaIdentityScaleIsOne(t *testing.T) {
	pts := cubeFixture()
	transform, err := Umeyama(pts, pts)
	if err != nil {
		t.Fatalf("Umeyama: %v", err)
	}
	if !almostEqual(transform.S, 1) {
		t.Errorf("S = %v, want 1 for identical point sets", transform.S)
	}
}

func TestUmeyamaRejectsTooFewPoints(t *testing.T) {
	pts := cubeFixture()[:2]
	if _, err := Umeyama(pts, pts); err == nil {
		t.Fatal("expected an error for fewer than 3 points")
	}
}

func TestPCAFrameOrthonormal(t *testing.T) {
	pts := cubeFixture()
	frame, eigenvalues, err := PCAFrame(pts)
	if err != nil {
		t.Fatalf("PCAFrame: %v", err)
	}
	ft := mat3Transpose(frame)
	product := mat3Mul(ft, frame)
	identity := [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	if !matAlmostEqual(product, identity) {
		t.Errorf("frame^T frame = %v, want identity", product)
	}
	if eigenvalues[0] < eigenvalues[1] || eigenvalues[1] < eigenvalues[2] {
		t.Errorf("eigenvalues %v not in descending order", eigenvalues)
	}
	if det := det3(frame); math.Abs(det-1) > testEpsilon {
		t.Errorf("det(frame) = %v, want 1 (not right-handed)", det)
	}
}

func matAlmostEqual(a, b [3][3]float64) bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if !almostEqual(a[i][j], b[i][j]) {
				return false
			}
		}
	}
	return true
}

func applyRot(r [3][3]float64, p Vec3) Vec3 {
	return Vec3{
		X: r[0][0]*p.X + r[0][1]*p.Y + r[0][2]*p.Z,
		Y: r[1][0]*p.X + r[1][1]*p.Y + r[1][2]*p.Z,
		Z: r[2][0]*p.X + r[2][1]*p.Y + r[2][2]*p.Z,
	}
}

func TestPCASeedsProducesTwentyFourBaseSeeds(t *testing.T) {
	// A 30x20x10 box: distinct principal extents, so the PCA frame is
	// not degenerate (cube corners have an isotropic covariance).
	src := cubeFixture()
	for i := range src {
		src[i].X *= 3
		src[i].Y *= 2
	}
	rot := EulerXYZ(0, 0, 20)
	dst := make([]Vec3, len(src))
	for i, p := range src {
		dst[i] = applyRot(rot, p)
	}
	seeds, err := PCASeeds(src, dst)
	if err != nil {
		t.Fatalf("PCASeeds: %v", err)
	}
	if len(seeds) != 24 {
		t.Errorf("len(seeds) = %d, want 24 for a non-degenerate PCA frame (4 sign-flips x 6 Eulers)", len(seeds))
	}
	for _, s := range seeds {
		if det := det3(s); math.Abs(det-1) > testEpsilon {
			t.Errorf("seed det = %v, want 1 (every PCA seed rotation)", det)
		}
	}
}

func TestPCASeedsAppendsPermutationSeedsWhenDegenerate(t *testing.T) {
	// The corners of a cube have an isotropic covariance: all three
	// eigenvalues are equal, so PCASeeds should append the 4 permutation
	// fallback seeds on top of the usual 24.
	cube := cubeFixture()
	seeds, err := PCASeeds(cube, cube)
	if err != nil {
		t.Fatalf("PCASeeds: %v", err)
	}
	if len(seeds) != 28 {
		t.Errorf("len(seeds) = %d, want the 24 base seeds plus 4 permutation seeds", len(seeds))
	}
}

func TestRigidTransformInverseUndoesTransform(t *testing.T) {
	transform := RigidTransform{R: EulerXYZ(12, -7, 30), T: Vec3{X: 4, Y: -3, Z: 9}}
	inv := transform.Inverse()
	for _, p := range cubeFixture() {
		roundTrip := inv.Apply(transform.Apply(p))
		if !vecAlmostEqual(roundTrip, p) {
			t.Errorf("inv.Apply(transform.Apply(%v)) = %v, want %v", p, roundTrip, p)
		}
	}
}
