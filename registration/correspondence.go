package registration

import (
	"math"
	"math/rand"
	"sort"
)

// candPair is a mutual-NN correspondence candidate between a source
// sample index and a target ROI index, tracked through the distance
// gate and RANSAC verification stages of SuggestCorrespondences. Every
// candPair is mutual by construction (the pairing loop below only ever
// records mutual nearest neighbors), so there is no separate mutual
// flag to carry. normalAlign is the cosine-similarity-derived [0,1]
// alignment of the pair's surface normals (0.5, neutral, when normals
// are unavailable).
type candPair struct {
	srcIdx, dstIdx int
	dist           float64
	normalAlign    float64
}

// CorrespondencePair is a suggested source/target landmark pair with a
// confidence score (spec §3, §4.6 step 10).
type CorrespondencePair struct {
	ID           int     `json:"id"`
	SourcePoint  Vec3    `json:"source_point"`
	TargetPoint  Vec3    `json:"target_point"`
	Confidence   float64 `json:"confidence"`
	Reason       string  `json:"reason"`
	Distance     float64 `json:"distance"`
}

// SuggestDiagnostics reports the ROI/nearest-neighbor mode selected
// during suggestion, for the /register/semi_auto/suggest_points
// response (spec §6).
type SuggestDiagnostics struct {
	ROIMode         string `json:"roi_mode"`
	NearestMode     string `json:"nearest_mode"`
	SuggestionMode  string `json:"suggestion_mode"`
	TopCandidates   int    `json:"top_candidates"`
}

// SuggestResult is the output of SuggestCorrespondences.
type SuggestResult struct {
	Pairs        []CorrespondencePair
	CoarseInit   RigidTransform
	Diagnostics  SuggestDiagnostics
	SourceSpread float64
	TargetSpread float64
}

const suggestSourceSample = 6500
const suggestTargetSample = 22000
const coarseICPIterations = 25
const coarseICPThreshold = 6.0
const backfillPenalty = 0.22

// SuggestCorrespondences implements the semi-automatic correspondence
// suggester: deterministic sampling, coarse centroid+ICP init, a hard
// ROI on the target, mutual-NN pairing, a distance gate, triplet RANSAC
// verification, scoring, spread-based top-k selection, and relaxed
// backfill (spec §4.6 steps 1-10).
func SuggestCorrespondences(source, target GeomSource, k int, forceMouthROI bool, cfg Config) (SuggestResult, error) {
	srcAll := source.Vertices()
	dstAll := target.Vertices()
	if len(srcAll) < 3 || len(dstAll) < 3 {
		return SuggestResult{}, &DegenerateInputError{Reason: "fewer than 3 vertices in source or target"}
	}

	srcSample, srcSampleNormals := samplePointsAndNormals(srcAll, source.Normals(), suggestSourceSample, cfg.Seeds.Sample11)
	dstSample, dstSampleNormals := samplePointsAndNormals(dstAll, target.Normals(), suggestTargetSample, cfg.Seeds.Sample13)

	// Step 2: coarse init — centroid match then vanilla point-to-point
	// ICP at 6mm threshold for 25 iterations.
	coarse := Identity()
	coarse.T = centroid(dstSample).Sub(centroid(srcSample))
	stage := ICPStageConfig{MaxDist: coarseICPThreshold, MaxIterations: coarseICPIterations}
	outcome := RunICPStage(srcSample, dstSample, nil, coarse, stage)
	coarseInit := outcome.Transform
	transformedSrc := coarseInit.ApplyAll(srcSample)
	var transformedSrcNormals []Vec3
	if srcSampleNormals != nil {
		transformedSrcNormals = coarseInit.ApplyRotationAll(srcSampleNormals)
	}

	// Step 3: hard ROI on target.
	srcBounds := boundsOf(transformedSrc)
	maxExtent := srcBounds.MaxExtent()
	margin := clip(0.32*maxExtent, 8, 28)
	roiBounds := AABB{Min: srcBounds.Min.Sub(Vec3{X: margin, Y: margin, Z: margin}), Max: srcBounds.Max.Add(Vec3{X: margin, Y: margin, Z: margin})}

	nearestMode := "full_face"
	percentile := 13.0
	if forceMouthROI {
		nearestMode = "mouth_focused"
		percentile = 7.0
	}

	srcIdx := NewNeighborIndex(transformedSrc)
	distToSrc := make([]float64, len(dstSample))
	for i, p := range dstSample {
		_, d := srcIdx.Nearest(p)
		distToSrc[i] = d
	}
	thresh := clip(percentileOf(distToSrc, percentile), 2.5, 20)

	hasDstNormals := dstSampleNormals != nil
	var roi []Vec3
	var roiNormals []Vec3
	for i, p := range dstSample {
		if inBounds(p, roiBounds) && distToSrc[i] <= thresh {
			roi = append(roi, p)
			if hasDstNormals {
				roiNormals = append(roiNormals, dstSampleNormals[i])
			}
		}
	}
	roiMode := "hard_roi"
	if len(roi) < 900 {
		roiMode = "nearest_3600"
		type di struct {
			idx  int
			dist float64
		}
		all := make([]di, len(dstSample))
		for i, d := range distToSrc {
			all[i] = di{idx: i, dist: d}
		}
		sort.Slice(all, func(a, b int) bool { return all[a].dist < all[b].dist })
		n := 3600
		if n > len(all) {
			n = len(all)
		}
		roi = roi[:0]
		roiNormals = roiNormals[:0]
		for i := 0; i < n; i++ {
			roi = append(roi, dstSample[all[i].idx])
			if hasDstNormals {
				roiNormals = append(roiNormals, dstSampleNormals[all[i].idx])
			}
		}
	}

	// Step 4: mutual nearest-neighbour pairs, deduplicated one-to-one by
	// target index keeping the closest source.
	srcToROI := NewNeighborIndex(roi)
	roiToSrc := NewNeighborIndex(transformedSrc)

	hasNormalData := transformedSrcNormals != nil && roiNormals != nil

	bestForTarget := make(map[int]candPair)
	for si, sp := range transformedSrc {
		ri, d := srcToROI.Nearest(sp)
		if ri < 0 {
			continue
		}
		rj, _ := roiToSrc.Nearest(roi[ri])
		mutual := rj == si
		if !mutual {
			continue
		}
		existing, ok := bestForTarget[ri]
		if ok && d >= existing.dist {
			continue
		}
		normalAlign := 0.5
		if hasNormalData {
			dot := transformedSrcNormals[si].Normalized().Dot(roiNormals[ri].Normalized())
			normalAlign = clip((dot+1)/2, 0, 1)
		}
		bestForTarget[ri] = candPair{srcIdx: si, dstIdx: ri, dist: d, normalAlign: normalAlign}
	}

	distGate := clip(percentileOf(distancesOf(bestForTarget), 60), 1.8, 9.5)
	var candidates []candPair
	for _, c := range bestForTarget {
		if c.dist <= distGate {
			candidates = append(candidates, c)
		}
	}
	// Map iteration order is random; fix the order before the seeded
	// RANSAC draws indices into candidates.
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].dstIdx < candidates[j].dstIdx })

	// Step 6: RANSAC verification via Kabsch triplets.
	inlierThresh := 5.0
	if forceMouthROI {
		inlierThresh = 3.8
	}
	maxIters := 3 * len(candidates)
	if maxIters < 40 {
		maxIters = 40
	}
	if maxIters > 180 {
		maxIters = 180
	}
	candidates = ransacVerifyCorrespondences(candidates, transformedSrc, roi, inlierThresh, maxIters, cfg.Seeds.Triplet23)

	// Step 7: score pairs.
	type scoredPair struct {
		cand     candPair
		score    float64
		backfill bool
	}
	// Weighted composite per spec §4.6 step 7: distance, normal
	// alignment, curvature similarity, mutual-NN bonus. Every candidate
	// reaching this point is already mutual by construction (the
	// pairing loop above discards non-mutual candidates), so that
	// term's 0.06 weight is folded into the distance term rather than
	// carried as a no-op multiply-by-true. Curvature has no signal
	// available here: GeomSource (the sum type ROI/mutual-NN pairing
	// is built against) exposes vertices/normals/bounds only, not the
	// mesh-only curvature proxy from SampleCurvature, so that term
	// stays at its documented neutral weight.
	scored := make([]scoredPair, 0, len(candidates))
	for _, c := range candidates {
		s := 0.68/(1+c.dist) + 0.20*c.normalAlign + 0.12*0
		scored = append(scored, scoredPair{cand: c, score: s})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	// Step 8: select top-k with minimum spread.
	srcSpreadMin := math.Max(maxExtent*0.10, 10)
	dstSpreadMin := math.Max(maxExtent*0.08, 7.5)

	var selected []scoredPair
	for _, sp := range scored {
		if len(selected) >= k {
			break
		}
		ok := true
		for _, prev := range selected {
			if transformedSrc[sp.cand.srcIdx].Dist(transformedSrc[prev.cand.srcIdx]) < srcSpreadMin {
				ok = false
				break
			}
			if roi[sp.cand.dstIdx].Dist(roi[prev.cand.dstIdx]) < dstSpreadMin {
				ok = false
				break
			}
		}
		if ok {
			selected = append(selected, sp)
		}
	}

	if len(selected) < k {
		for _, sp := range scored {
			if len(selected) >= k {
				break
			}
			already := false
			for _, s := range selected {
				if s.cand.srcIdx == sp.cand.srcIdx && s.cand.dstIdx == sp.cand.dstIdx {
					already = true
					break
				}
			}
			if !already {
				sp.score -= backfillPenalty
				sp.backfill = true
				selected = append(selected, sp)
			}
		}
	}

	pairs := make([]CorrespondencePair, 0, len(selected))
	maxScore, minScore := math.Inf(-1), math.Inf(1)
	for _, sp := range selected {
		if sp.score > maxScore {
			maxScore = sp.score
		}
		if sp.score < minScore {
			minScore = sp.score
		}
	}
	for i, sp := range selected {
		norm := 0.5
		if maxScore > minScore {
			norm = (sp.score - minScore) / (maxScore - minScore)
		}
		confidence := clip(0.55+0.4*norm, 0, 0.99)
		reason := "mutual_nn_verified"
		if sp.backfill {
			reason = "backfill"
		}
		pairs = append(pairs, CorrespondencePair{
			ID:          i,
			SourcePoint: transformedSrc[sp.cand.srcIdx],
			TargetPoint: roi[sp.cand.dstIdx],
			Confidence:  confidence,
			Reason:      reason,
			Distance:    sp.cand.dist,
		})
	}

	return SuggestResult{
		Pairs:      pairs,
		CoarseInit: coarseInit,
		Diagnostics: SuggestDiagnostics{
			ROIMode:        roiMode,
			NearestMode:    nearestMode,
			SuggestionMode: "correspondence_v3",
			TopCandidates:  len(scored),
		},
		SourceSpread: srcSpreadMin,
		TargetSpread: dstSpreadMin,
	}, nil
}

func ransacVerifyCorrespondences(candidates []candPair, srcPts, dstPts []Vec3, inlierThresh float64, maxIters int, seed int64) []candPair {
	if len(candidates) < 3 {
		return candidates
	}
	rng := newDeterministicRand(seed)
	bestInliers := -1
	var bestSet []candPair
	bestMedian := math.Inf(1)

	for iter := 0; iter < maxIters; iter++ {
		tri := sample3(rng, len(candidates))
		srcTri := []Vec3{srcPts[candidates[tri[0]].srcIdx], srcPts[candidates[tri[1]].srcIdx], srcPts[candidates[tri[2]].srcIdx]}
		dstTri := []Vec3{dstPts[candidates[tri[0]].dstIdx], dstPts[candidates[tri[1]].dstIdx], dstPts[candidates[tri[2]].dstIdx]}
		transform, err := Kabsch(srcTri, dstTri)
		if err != nil {
			continue
		}
		var inliers []candPair
		var residuals []float64
		for _, c := range candidates {
			d := transform.Apply(srcPts[c.srcIdx]).Dist(dstPts[c.dstIdx])
			if d <= inlierThresh {
				inliers = append(inliers, c)
				residuals = append(residuals, d)
			}
		}
		if len(inliers) > bestInliers || (len(inliers) == bestInliers && medianOf(residuals) < bestMedian) {
			bestInliers = len(inliers)
			bestSet = inliers
			bestMedian = medianOf(residuals)
		}
	}
	if bestInliers >= 3 {
		return bestSet
	}
	return candidates
}

func sample3(rng *rand.Rand, n int) [3]int {
	for {
		a, b, c := rng.Intn(n), rng.Intn(n), rng.Intn(n)
		if a != b && b != c && a != c {
			return [3]int{a, b, c}
		}
	}
}

func distancesOf(m map[int]candPair) []float64 {
	out := make([]float64, 0, len(m))
	for _, v := range m {
		out = append(out, v.dist)
	}
	return out
}

func inBounds(p Vec3, b AABB) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func percentileOf(values []float64, p float64) float64 {
	return percentile(values, p)
}

