package registration

import "testing"

func TestManualLandmarkRegisterExactTranslation(t *testing.T) {
	src := cubeFixture()
	shift := Vec3{X: 2, Y: -4, Z: 1}
	dst := make([]Vec3, len(src))
	for i, p := range src {
		dst[i] = p.Add(shift)
	}
	result, err := ManualLandmarkRegister(src, dst, DefaultConfig())
	if err != nil {
		t.Fatalf("ManualLandmarkRegister: %v", err)
	}
	if result.RMSE > 1e-6 {
		t.Errorf("RMSE = %v, want ~0 for exact translation", result.RMSE)
	}
	if result.InlierCount != result.TotalPoints {
		t.Errorf("InlierCount = %d, want all %d points as inliers", result.InlierCount, result.TotalPoints)
	}
}

func TestManualLandmarkRegisterRejectsTooFew(t *testing.T) {
	pts := cubeFixture()[:2]
	if _, err := ManualLandmarkRegister(pts, pts, DefaultConfig()); err == nil {
		t.Fatal("expected an error for fewer than 3 landmarks")
	}
}

func TestManualLandmarkRegisterRejectsLengthMismatch(t *testing.T) {
	src := cubeFixture()
	dst := cubeFixture()[:5]
	if _, err := ManualLandmarkRegister(src, dst, DefaultConfig()); err == nil {
		t.Fatal("expected an error for mismatched source/target lengths")
	}
}

func TestManualLandmarkRegisterResistsOutlier(t *testing.T) {
	src := cubeFixture()
	shift := Vec3{X: 3, Y: 3, Z: 3}
	dst := make([]Vec3, len(src))
	for i, p := range src {
		dst[i] = p.Add(shift)
	}
	// Corrupt one correspondence badly; the inlier-selecting triplet
	// RANSAC should still recover the true translation.
	dst[0] = dst[0].Add(Vec3{X: 500, Y: -500, Z: 500})

	result, err := ManualLandmarkRegister(src, dst, DefaultConfig())
	if err != nil {
		t.Fatalf("ManualLandmarkRegister: %v", err)
	}
	if result.InlierCount >= len(src) {
		t.Errorf("expected the corrupted correspondence to be excluded from inliers, got InlierCount=%d of %d", result.InlierCount, len(src))
	}
	if !vecAlmostEqual(result.Transform.T, shift) {
		t.Errorf("T = %v, want %v despite the outlier", result.Transform.T, shift)
	}
}
