package registration

import (
	"math"
	"math/rand"
	"sort"
)

// ManualResult is the output of manual landmark registration: the fitted
// transform plus inlier diagnostics (spec §4.7 / §6 /register/manual).
type ManualResult struct {
	Transform   RigidTransform
	RMSE        float64
	InlierRMSE  float64
	InlierCount int
	TotalPoints int
}

const manualInlierThreshold = 5.0 // mm, spec §4.7 step 2
const manualRandomTripletCount = 120

// ManualLandmarkRegister fits a robust rigid transform from paired
// landmarks via triplet RANSAC: for n in [3,7] every triplet is tried;
// for n>7, 120 random unique triplets (seed cfg.Seeds.Manual123) are
// tried, or every triplet when n has fewer than 120. The best triplet is scored by (inlier_count, -median(inlier
// residual)); ties favor more inliers then a tighter residual. If at
// least 3 inliers are found, Kabsch is re-fit on the inlier set;
// otherwise the all-points fit is kept (spec §4.7).
func ManualLandmarkRegister(source, target []Vec3, cfg Config) (ManualResult, error) {
	if len(source) != len(target) {
		return ManualResult{}, &InputMissingError{Field: "source_points/target_points", Reason: "length mismatch"}
	}
	if len(source) < 3 {
		return ManualResult{}, &InputMissingError{Field: "source_points/target_points", Reason: "fewer than 3 paired points"}
	}
	n := len(source)

	triplets := tripletsFor(n, cfg.Seeds.Manual123)

	type scored struct {
		transform   RigidTransform
		inlierIdx   []int
		medianRes   float64
	}
	var best *scored

	for _, tri := range triplets {
		srcTri := []Vec3{source[tri[0]], source[tri[1]], source[tri[2]]}
		dstTri := []Vec3{target[tri[0]], target[tri[1]], target[tri[2]]}
		transform, err := Kabsch(srcTri, dstTri)
		if err != nil {
			continue
		}

		residuals := make([]float64, n)
		var inliers []int
		for i := range source {
			d := transform.Apply(source[i]).Dist(target[i])
			residuals[i] = d
			if d <= manualInlierThreshold {
				inliers = append(inliers, i)
			}
		}

		inlierResiduals := make([]float64, len(inliers))
		for i, idx := range inliers {
			inlierResiduals[i] = residuals[idx]
		}
		median := medianOf(inlierResiduals)

		cand := &scored{transform: transform, inlierIdx: inliers, medianRes: median}
		if best == nil || len(cand.inlierIdx) > len(best.inlierIdx) ||
			(len(cand.inlierIdx) == len(best.inlierIdx) && cand.medianRes < best.medianRes) {
			best = cand
		}
	}

	if best == nil {
		return ManualResult{}, &NumericalFailureError{Op: "ManualLandmarkRegister", Reason: "no triplet produced a valid fit"}
	}

	finalTransform := best.transform
	if len(best.inlierIdx) >= 3 {
		srcIn := make([]Vec3, len(best.inlierIdx))
		dstIn := make([]Vec3, len(best.inlierIdx))
		for i, idx := range best.inlierIdx {
			srcIn[i] = source[idx]
			dstIn[i] = target[idx]
		}
		if refit, err := Kabsch(srcIn, dstIn); err == nil {
			finalTransform = refit
		}
	}

	var sumSq, inlierSumSq float64
	var inlierCount int
	for i := range source {
		d := finalTransform.Apply(source[i]).Dist(target[i])
		sumSq += d * d
		if d <= manualInlierThreshold {
			inlierSumSq += d * d
			inlierCount++
		}
	}
	rmse := sqrtSafe(sumSq / float64(n))
	inlierRMSE := rmse
	if inlierCount > 0 {
		inlierRMSE = sqrtSafe(inlierSumSq / float64(inlierCount))
	}

	return ManualResult{
		Transform:   finalTransform,
		RMSE:        rmse,
		InlierRMSE:  inlierRMSE,
		InlierCount: inlierCount,
		TotalPoints: n,
	}, nil
}

func tripletsFor(n int, seed int64) [][3]int {
	if n <= 7 {
		var out [][3]int
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				for k := j + 1; k < n; k++ {
					out = append(out, [3]int{i, j, k})
				}
			}
		}
		return out
	}
	rng := rand.New(rand.NewSource(seed))
	seen := make(map[[3]int]bool)
	var out [][3]int
	want := manualRandomTripletCount
	if total := n * (n - 1) * (n - 2) / 6; total < want {
		want = total
	}
	for len(out) < want {
		a, b, c := rng.Intn(n), rng.Intn(n), rng.Intn(n)
		if a == b || b == c || a == c {
			continue
		}
		tri := sortedTriplet(a, b, c)
		if seen[tri] {
			continue
		}
		seen[tri] = true
		out = append(out, tri)
	}
	return out
}

func sortedTriplet(a, b, c int) [3]int {
	s := []int{a, b, c}
	sort.Ints(s)
	return [3]int{s[0], s[1], s[2]}
}

func medianOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func sqrtSafe(v float64) float64 {
	if v < 0 {
		return 0
	}
	return math.Sqrt(v)
}
