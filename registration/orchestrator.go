package registration

import (
	"log"
	"math"
)

// PrealignMode names the pre-alignment translation mode tried by each
// auto-registration strategy (spec §4.6).
type PrealignMode string

const (
	PrealignNone   PrealignMode = "none"
	PrealignCenter PrealignMode = "center"
	PrealignFront  PrealignMode = "front"
)

// roiRadii and zBiases are the strategy enumeration axes from spec §4.6.
var roiRadii = []float64{35, 45, 55, 70, 85}
var zBiases = []float64{-10, 0, 10}

// Strategy is one parameterized auto-registration attempt.
type Strategy struct {
	Prealign PrealignMode
	ROIRadiusMM float64
	ZBiasMM     float64
}

// EnumerateStrategies builds 16 strategies when partial overlap is
// detected (every ROI radius x Z-bias for front mode, plus one center
// strategy at the middle radius), or 3 strategies (front/center/none
// over the full mesh) otherwise (spec §4.6).
func EnumerateStrategies(partialOverlap bool) []Strategy {
	if !partialOverlap {
		return []Strategy{
			{Prealign: PrealignFront},
			{Prealign: PrealignCenter},
			{Prealign: PrealignNone},
		}
	}
	var out []Strategy
	for _, r := range roiRadii {
		for _, z := range zBiases {
			out = append(out, Strategy{Prealign: PrealignFront, ROIRadiusMM: r, ZBiasMM: z})
		}
	}
	out = append(out, Strategy{Prealign: PrealignCenter, ROIRadiusMM: roiRadii[len(roiRadii)/2]})
	return out
}

// PrealignTransform computes the pre-alignment translation for a
// strategy, given the source/target bounds (spec §4.6).
func PrealignTransform(mode PrealignMode, srcBounds, dstBounds AABB, zBias float64) RigidTransform {
	t := Identity()
	switch mode {
	case PrealignCenter:
		t.T = dstBounds.Center().Sub(srcBounds.Center())
	case PrealignFront:
		t.T.X = dstBounds.Center().X - srcBounds.Center().X
		t.T.Y = dstBounds.Center().Y - srcBounds.Center().Y
		t.T.Z = dstBounds.Min.Z - srcBounds.Min.Z + zBias
	case PrealignNone:
		// identity
	}
	return t
}

// AttemptDiagnostic summarizes one strategy's outcome for the
// attempt_diagnostics response field (spec §6 /register/auto).
type AttemptDiagnostic struct {
	Strategy   Strategy         `json:"strategy"`
	Report     QualityReport    `json:"report"`
	Passed     bool             `json:"passed"`
	Score      float64          `json:"score"`
	SeedIndex  int              `json:"seed_index"`
	Degenerate bool             `json:"degenerate"`
}

// AutoRegisterResult is the output of auto-registration (spec §6
// /register/auto).
type AutoRegisterResult struct {
	Transform          RigidTransform
	Report             QualityReport
	Gate               QualityGate
	Passed             bool
	LowConfidence      bool
	BestStrategy       Strategy
	BestSeedIndex      int
	SelectionMode      string // "valid_best" | "fallback_prealign"
	AttemptCount       int
	AttemptDiagnostics []AttemptDiagnostic
	ModelCenters       [2]Vec3
}

const fastRankIterations = 40
const fastRankDistMultiple = 8
const candidateCap = 96
const topKAfterFastRank = 12

// AutoRegister runs the full auto-registration orchestrator: ROI
// policy, strategy enumeration, per-strategy candidate generation, fast
// ranking, full refinement, and branch selection (spec §4.6).
func AutoRegister(source, target GeomSource, cfg Config, profile Profile, device DeviceProfile) AutoRegisterResult {
	srcPts := source.Vertices()
	dstPts := target.Vertices()
	srcBounds := source.Bounds()
	dstBounds := target.Bounds()

	larger, smaller, partial := IsFaceVsJaw(target, source)
	var roiExtent float64
	var workingTarget []Vec3
	if partial {
		roi := ExtractROI(larger, smaller, cfg.ROIDistanceThreshold, cfg.Seeds.Coarse31)
		if roi.Fallback {
			log.Printf("[AUTO-REG] ROI fallback to full mesh: fewer than 200 points within %.1fmm", cfg.ROIDistanceThreshold)
		}
		workingTarget = roi.Points
		roiExtent = boundsOf(roi.Points).MaxExtent()
	} else {
		workingTarget = dstPts
		roiExtent = dstBounds.MaxExtent()
	}

	strategies := EnumerateStrategies(partial)
	gate := ResolveGate(profile, device)

	var diagnostics []AttemptDiagnostic
	var bestOutcome ICPOutcome
	var bestStrategy Strategy
	var bestSeed int
	bestScore := math.MaxFloat64
	haveValid := false

	voxel := autoVoxelSize(roiExtent)

	for _, strat := range strategies {
		prealign := PrealignTransform(strat.Prealign, srcBounds, dstBounds, strat.ZBiasMM)
		aligned := prealign.ApplyAll(srcPts)

		targetForStrategy := workingTarget
		if strat.ROIRadiusMM > 0 && partial {
			roi := ExtractROI(larger, smaller, strat.ROIRadiusMM, cfg.Seeds.Coarse31)
			targetForStrategy = roi.Points
		}

		srcDown := VoxelDownsample(aligned, voxel)
		dstDown := VoxelDownsample(targetForStrategy, voxel)
		srcNormals := EstimateNormals(srcDown, 2*voxel, 30)
		dstNormals := EstimateNormals(dstDown, 2*voxel, 30)
		srcFeat := ComputeFPFH(srcDown, srcNormals, 5*voxel, 100)
		dstFeat := ComputeFPFH(dstDown, dstNormals, 5*voxel, 100)

		var candidates []SeedCandidate
		seedIdx := 0
		if ransac, err := RANSACGlobalRegistration(srcDown, dstDown, srcFeat, dstFeat, voxel, cfg.Seeds.RANSAC19, 4000000, 500); err == nil {
			candidates = append(candidates, SeedCandidate{Transform: ransac.Transform, SeedIndex: seedIdx})
		}
		seedIdx++
		// A second, independently seeded RANSAC pass diversifies the
		// candidate pool beyond whatever basin cfg.Seeds.RANSAC19's draw
		// happened to land in, cheaply widening global-registration
		// coverage (spec §4.4's RANSAC step feeds a multi-seed ICP stage).
		if ransac, err := RANSACGlobalRegistration(srcDown, dstDown, srcFeat, dstFeat, voxel, cfg.Seeds.RANSAC21, 4000000, 500); err == nil {
			candidates = append(candidates, SeedCandidate{Transform: ransac.Transform, SeedIndex: seedIdx})
		}
		seedIdx++
		if pcaSeeds, err := PCASeeds(aligned, targetForStrategy); err == nil {
			for _, r := range pcaSeeds {
				candidates = append(candidates, SeedCandidate{Transform: RigidTransform{R: r}, SeedIndex: seedIdx})
				seedIdx++
			}
		}
		localSeeds := LocalPerturbationSeeds(Identity(), centroid(aligned))
		for _, t := range localSeeds {
			candidates = append(candidates, SeedCandidate{Transform: t, SeedIndex: seedIdx})
			seedIdx++
		}
		if len(candidates) > candidateCap {
			candidates = strideSample(candidates, candidateCap)
		}

		top := fastRankCandidates(srcDown, dstDown, candidates, voxel)

		outcome, seed := MultiSeedSelect(srcDown, dstDown, dstNormals, top, voxel)
		overlapThresh := 1.5 * voxel
		if overlapThresh < 1.0 {
			overlapThresh = 1.0
		}
		report := SymmetricQualityAt(outcome.Transform.ApplyAll(srcDown), dstDown, overlapThresh)
		score := CompositeScore(report)
		degenerate := IsDegenerate(report, roiExtent)
		passed := !degenerate && gate.Passes(report)

		diagnostics = append(diagnostics, AttemptDiagnostic{
			Strategy: strat, Report: report, Passed: passed, Score: score, SeedIndex: seed, Degenerate: degenerate,
		})

		finalTransform := prealign.Compose(outcome.Transform)
		if passed && (!haveValid || score < bestScore) {
			haveValid = true
			bestScore = score
			bestOutcome = ICPOutcome{Transform: finalTransform, Report: report}
			bestStrategy = strat
			bestSeed = seed
		}
		if !haveValid && (bestStrategy == (Strategy{}) || score < bestScore) {
			bestOutcome = ICPOutcome{Transform: finalTransform, Report: report}
			bestStrategy = strat
			bestSeed = seed
			bestScore = score
		}
	}

	if len(diagnostics) > 12 {
		diagnostics = diagnostics[:12]
	}

	result := AutoRegisterResult{
		Gate:               gate,
		AttemptCount:        len(strategies),
		AttemptDiagnostics:  diagnostics,
		ModelCenters:        [2]Vec3{srcBounds.Center(), dstBounds.Center()},
	}

	if haveValid {
		result.Transform = bestOutcome.Transform
		result.Report = bestOutcome.Report
		result.Passed = true
		result.LowConfidence = false
		result.BestStrategy = bestStrategy
		result.BestSeedIndex = bestSeed
		result.SelectionMode = "valid_best"
		return result
	}

	// Conservative fallback: pure pre-alignment translation, no ICP
	// rotation, flagged low_confidence (spec §4.6).
	fallback := PrealignTransform(PrealignCenter, srcBounds, dstBounds, 0)
	report := SymmetricQuality(fallback.ApplyAll(srcPts), dstPts)
	result.Transform = fallback
	result.Report = report
	result.Passed = false
	result.LowConfidence = true
	result.SelectionMode = "fallback_prealign"
	return result
}

func autoVoxelSize(roiExtent float64) float64 {
	v := roiExtent * 0.010
	if v < 0.5 {
		v = 0.5
	}
	return v
}

func strideSample(candidates []SeedCandidate, cap int) []SeedCandidate {
	if len(candidates) <= cap {
		return candidates
	}
	stride := float64(len(candidates)) / float64(cap)
	out := make([]SeedCandidate, 0, cap)
	for i := 0; i < cap; i++ {
		idx := int(float64(i) * stride)
		if idx >= len(candidates) {
			idx = len(candidates) - 1
		}
		out = append(out, candidates[idx])
	}
	return out
}

// fastRankCandidates runs a short point-to-point ICP (40 iterations,
// dist=8*voxel) on every candidate and keeps the top 12 by rmse/fitness
// (spec §4.6 step 5).
type rankedCandidate struct {
	cand  SeedCandidate
	score float64
}

func fastRankCandidates(srcPts, dstPts []Vec3, candidates []SeedCandidate, voxel float64) []SeedCandidate {
	stage := ICPStageConfig{MaxDist: fastRankDistMultiple * voxel, MaxIterations: fastRankIterations, PointToPlane: false}
	rankedList := make([]rankedCandidate, 0, len(candidates))
	for _, c := range candidates {
		outcome := RunICPStage(srcPts, dstPts, nil, c.Transform, stage)
		fitness := outcome.Report.Fitness
		if fitness < 1e-6 {
			fitness = 1e-6
		}
		rankedList = append(rankedList, rankedCandidate{cand: SeedCandidate{Transform: outcome.Transform, SeedIndex: c.SeedIndex}, score: outcome.Report.RMSE / fitness})
	}
	sortRanked(rankedList)
	if len(rankedList) > topKAfterFastRank {
		rankedList = rankedList[:topKAfterFastRank]
	}
	out := make([]SeedCandidate, len(rankedList))
	for i, r := range rankedList {
		out[i] = r.cand
	}
	return out
}

func sortRanked(list []rankedCandidate) {
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && list[j].score < list[j-1].score; j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
}
