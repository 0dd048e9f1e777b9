package registration

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ICPStageConfig configures a single multi-scale ICP stage.
type ICPStageConfig struct {
	MaxDist       float64
	MaxIterations int
	PointToPlane  bool
}

// MultiScaleStages builds the three-stage schedule from spec §4.5:
// thresholds {6v, 3v, 1.5v}, iterations {120, 160, 220}; stages 1-2 are
// point-to-point, stage 3 is point-to-plane.
func MultiScaleStages(voxel float64) []ICPStageConfig {
	return []ICPStageConfig{
		{MaxDist: 6 * voxel, MaxIterations: 120, PointToPlane: false},
		{MaxDist: 3 * voxel, MaxIterations: 160, PointToPlane: false},
		{MaxDist: 1.5 * voxel, MaxIterations: 220, PointToPlane: true},
	}
}

// ICPOutcome is the result of running one or more ICP stages: the
// accumulated transform and final quality report.
type ICPOutcome struct {
	Transform RigidTransform
	Report    QualityReport
}

// RunICPStage runs point-to-point (or point-to-plane, when dstNormals
// is supplied and stage.PointToPlane is set) ICP from an initial
// transform, iterating until convergence or stage.MaxIterations.
func RunICPStage(srcPts []Vec3, dstPts, dstNormals []Vec3, init RigidTransform, stage ICPStageConfig) ICPOutcome {
	current := init
	idx := NewNeighborIndex(dstPts)
	var lastRMSE float64 = math.MaxFloat64

	for iter := 0; iter < stage.MaxIterations; iter++ {
		transformed := current.ApplyAll(srcPts)

		var srcIn, dstIn []Vec3
		var dstNormalIn []Vec3
		var sumSq float64
		for i, p := range transformed {
			j, d := idx.Nearest(p)
			if j < 0 || d > stage.MaxDist {
				continue
			}
			srcIn = append(srcIn, srcPts[i])
			dstIn = append(dstIn, dstPts[j])
			if len(dstNormals) == len(dstPts) {
				dstNormalIn = append(dstNormalIn, dstNormals[j])
			}
			sumSq += d * d
		}
		if len(srcIn) < 3 {
			break
		}
		rmse := math.Sqrt(sumSq / float64(len(srcIn)))

		var next RigidTransform
		var err error
		if stage.PointToPlane && len(dstNormalIn) == len(srcIn) {
			next, err = pointToPlaneStep(srcIn, dstIn, dstNormalIn, current)
		} else {
			next, err = Kabsch(srcIn, dstIn)
		}
		if err != nil {
			break
		}
		current = next

		if math.Abs(lastRMSE-rmse) < 1e-7 {
			lastRMSE = rmse
			break
		}
		lastRMSE = rmse
	}

	report := SymmetricQuality(current.ApplyAll(srcPts), dstPts)
	return ICPOutcome{Transform: current, Report: report}
}

// pointToPlaneStep performs one linearized point-to-plane ICP update,
// solving the small-angle normal-equations system for the incremental
// rotation (alpha,beta,gamma) and translation that minimizes
// sum (n_i . (R*x_i+t - y_i))^2, then composes it onto current.
func pointToPlaneStep(srcIn, dstIn, dstNormalIn []Vec3, current RigidTransform) (RigidTransform, error) {
	transformed := current.ApplyAll(srcIn)

	// Build the 6x6 normal-equations system A^T A * delta = A^T b using
	// the standard point-to-plane linearization around the identity
	// (rotation treated as small-angle since each ICP iteration already
	// re-linearizes from the current estimate).
	var ata [6][6]float64
	var atb [6]float64
	for i := range transformed {
		p := transformed[i]
		n := dstNormalIn[i]
		q := dstIn[i]

		// Jacobian row for residual n.(p + skew(p)*theta + t - q).
		row := [6]float64{
			n.Z*p.Y - n.Y*p.Z,
			n.X*p.Z - n.Z*p.X,
			n.Y*p.X - n.X*p.Y,
			n.X, n.Y, n.Z,
		}
		residual := n.Dot(q.Sub(p))

		for r := 0; r < 6; r++ {
			atb[r] += row[r] * residual
			for c := 0; c < 6; c++ {
				ata[r][c] += row[r] * row[c]
			}
		}
	}

	delta, ok := solve6(ata, atb)
	if !ok {
		return RigidTransform{}, &NumericalFailureError{Op: "pointToPlaneStep", Reason: "singular normal-equations system"}
	}

	incR := EulerXYZ(delta[0]*180/math.Pi, delta[1]*180/math.Pi, delta[2]*180/math.Pi)
	incT := Vec3{X: delta[3], Y: delta[4], Z: delta[5]}
	inc := RigidTransform{R: incR, T: incT}
	return current.Compose(inc), nil
}

// solve6 solves a 6x6 linear system via Gauss-Jordan elimination with
// partial pivoting, returning ok=false on a singular/near-singular
// matrix.
func solve6(a [6][6]float64, b [6]float64) ([6]float64, bool) {
	var m [6][7]float64
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			m[i][j] = a[i][j]
		}
		m[i][6] = b[i]
	}
	for col := 0; col < 6; col++ {
		pivot := col
		for r := col + 1; r < 6; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(m[pivot][col]) < 1e-12 {
			return [6]float64{}, false
		}
		m[col], m[pivot] = m[pivot], m[col]
		pv := m[col][col]
		for j := col; j < 7; j++ {
			m[col][j] /= pv
		}
		for r := 0; r < 6; r++ {
			if r == col {
				continue
			}
			factor := m[r][col]
			for j := col; j < 7; j++ {
				m[r][j] -= factor * m[col][j]
			}
		}
	}
	var x [6]float64
	for i := 0; i < 6; i++ {
		x[i] = m[i][6]
	}
	return x, true
}

// SymmetricQuality computes the bidirectional QualityReport between a
// transformed source cloud and its target: both d(src->dst) and
// d(dst->src), reporting the mean of percentiles (median, 90th) and
// overlap at max(1.5v, 1.0) — here evaluated at a fixed 1.0mm floor,
// with the caller supplying the voxel-scaled threshold via
// SymmetricQualityAt where tighter control is needed (spec §4.5).
func SymmetricQuality(transformedSrc, dst []Vec3) QualityReport {
	return symmetricQualityAt(transformedSrc, dst, 1.0)
}

// SymmetricQualityAt is SymmetricQuality with an explicit overlap
// inlier threshold (max(1.5*v, 1.0) per spec §4.5).
func SymmetricQualityAt(transformedSrc, dst []Vec3, overlapThresh float64) QualityReport {
	return symmetricQualityAt(transformedSrc, dst, overlapThresh)
}

func symmetricQualityAt(transformedSrc, dst []Vec3, overlapThresh float64) QualityReport {
	if len(transformedSrc) == 0 || len(dst) == 0 {
		return QualityReport{}
	}
	fwdIdx := NewNeighborIndex(dst)
	bwdIdx := NewNeighborIndex(transformedSrc)

	fwdDists := make([]float64, len(transformedSrc))
	var sumSq float64
	var fwdInliers int
	for i, p := range transformedSrc {
		_, d := fwdIdx.Nearest(p)
		fwdDists[i] = d
		sumSq += d * d
		if d <= overlapThresh {
			fwdInliers++
		}
	}
	bwdDists := make([]float64, len(dst))
	var bwdInliers int
	for i, p := range dst {
		_, d := bwdIdx.Nearest(p)
		bwdDists[i] = d
		if d <= overlapThresh {
			bwdInliers++
		}
	}

	fwdSorted := append([]float64(nil), fwdDists...)
	sort.Float64s(fwdSorted)
	bwdSorted := append([]float64(nil), bwdDists...)
	sort.Float64s(bwdSorted)
	medianSym := (stat.Quantile(0.5, stat.Empirical, fwdSorted, nil) + stat.Quantile(0.5, stat.Empirical, bwdSorted, nil)) / 2
	p90Sym := (stat.Quantile(0.9, stat.Empirical, fwdSorted, nil) + stat.Quantile(0.9, stat.Empirical, bwdSorted, nil)) / 2

	overlap := (float64(fwdInliers)/float64(len(fwdDists)) + float64(bwdInliers)/float64(len(bwdDists))) / 2

	fitnessThresh := overlapThresh
	var fitnessCount int
	for _, d := range fwdDists {
		if d <= fitnessThresh {
			fitnessCount++
		}
	}
	fitness := float64(fitnessCount) / float64(len(fwdDists))

	rmse := math.Sqrt(sumSq / float64(len(fwdDists)))

	srcCenter := centroid(transformedSrc)
	dstCenter := centroid(dst)

	return QualityReport{
		RMSE:       rmse,
		Fitness:    fitness,
		Overlap:    overlap,
		CenterDist: srcCenter.Dist(dstCenter),
		MedianSym:  medianSym,
		P90Sym:     p90Sym,
	}
}

// RunMultiScaleICP runs the three-stage schedule from MultiScaleStages
// in sequence, each stage initializing from the previous stage's
// output transform (spec §4.5).
func RunMultiScaleICP(srcPts []Vec3, dstPts, dstNormals []Vec3, init RigidTransform, voxel float64) ICPOutcome {
	current := init
	var outcome ICPOutcome
	for _, stage := range MultiScaleStages(voxel) {
		outcome = RunICPStage(srcPts, dstPts, dstNormals, current, stage)
		current = outcome.Transform
	}
	return outcome
}

// SeedCandidate pairs an initial transform with its originating seed
// index, for multi-seed selection bookkeeping.
type SeedCandidate struct {
	Transform RigidTransform
	SeedIndex int
}

// MultiSeedSelect runs the multi-scale ICP from every seed candidate
// and retains the one minimizing CompositeScore, breaking ties by
// inlier RMSE then seed index (spec §4.5).
func MultiSeedSelect(srcPts []Vec3, dstPts, dstNormals []Vec3, seeds []SeedCandidate, voxel float64) (ICPOutcome, int) {
	bestScore := math.MaxFloat64
	var best ICPOutcome
	bestSeed := -1
	for _, seed := range seeds {
		outcome := RunMultiScaleICP(srcPts, dstPts, dstNormals, seed.Transform, voxel)
		score := CompositeScore(outcome.Report)
		better := score < bestScore-1e-12
		tie := math.Abs(score-bestScore) <= 1e-12 &&
			(bestSeed == -1 || outcome.Report.RMSE < best.Report.RMSE ||
				(outcome.Report.RMSE == best.Report.RMSE && seed.SeedIndex < bestSeed))
		if better || tie {
			best = outcome
			bestScore = score
			bestSeed = seed.SeedIndex
		}
	}
	return best, bestSeed
}
