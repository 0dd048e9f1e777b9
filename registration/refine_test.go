package registration

import "testing"

func TestRefineSeedTransformsCountAndIdentitySeed(t *testing.T) {
	base := RigidTransform{R: EulerXYZ(0, 0, 10), T: Vec3{X: 1, Y: 2, Z: 3}}
	seeds := RefineSeedTransforms(base)
	if len(seeds) != 13 {
		t.Fatalf("len(seeds) = %d, want 13 (identity + 6 rotation + 6 translation perturbations)", len(seeds))
	}
	if seeds[0] != base {
		t.Errorf("seeds[0] = %v, want the unperturbed base transform %v", seeds[0], base)
	}
}

func TestRefineICPConvergesOnTranslatedCloudSameExtent(t *testing.T) {
	src := denseCubeSurface(4)
	shift := Vec3{X: 3, Y: -2, Z: 1}
	dst := make([]Vec3, len(src))
	for i, p := range src {
		dst[i] = p.Add(shift)
	}
	source := NewPointCloud(src, nil, nil)
	target := NewPointCloud(dst, nil, nil)

	result := RefineICP(source, target, Identity(), DefaultConfig())
	if !result.Passed {
		t.Errorf("Passed = false, want true for a close translated fit; report=%+v", result.Report)
	}
	if !vecAlmostEqualTol(result.Transform.T, shift, 1.0) {
		t.Errorf("recovered T = %v, want close to %v", result.Transform.T, shift)
	}
	if result.Branch != BranchROI && result.Branch != BranchFull {
		t.Errorf("Branch = %q, want roi or full", result.Branch)
	}
}

func TestRefineICPJawVsFaceReportsBranchAndSeed(t *testing.T) {
	jaw := gridPoints(6, 3)                  // small extent: a jaw/arch scan
	face := gridPoints(20, 3)                // a much larger face/head scan
	target := NewPointCloud(face, nil, nil)
	source := NewPointCloud(jaw, nil, nil)

	result := RefineICP(source, target, Identity(), DefaultConfig())
	if result.Branch != BranchROI && result.Branch != BranchFull {
		t.Errorf("Branch = %q, want roi or full", result.Branch)
	}
	// Whichever branch wins, the result names the refine seed it came from.
	if result.SeedIndex < 0 {
		t.Errorf("SeedIndex = %d, want a selected seed >= 0", result.SeedIndex)
	}
}

func TestRefineICPRejectsDisjointClouds(t *testing.T) {
	src := denseCubeSurface(4)
	dst := make([]Vec3, len(src))
	for i, p := range src {
		dst[i] = p.Add(Vec3{X: 500, Y: 500, Z: 500})
	}
	source := NewPointCloud(src, nil, nil)
	target := NewPointCloud(dst, nil, nil)

	result := RefineICP(source, target, Identity(), DefaultConfig())
	if result.Passed {
		t.Errorf("Passed = true, want false for two wildly disjoint clouds; report=%+v", result.Report)
	}
}
