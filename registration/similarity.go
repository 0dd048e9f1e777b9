package registration

import "math"

const scaleDriftThreshold = 0.03
const similaritySourceSample = 8000
const similarityTargetSample = 15000

// SimilarityCheckResult reports whether two point sets differ by more
// than a rigid transform — i.e. whether one scan appears to carry a
// scale factor relative to the other (spec §6 /register/similarity-check).
type SimilarityCheckResult struct {
	Scale               float64 `json:"scale"`
	ScaleDrift          float64 `json:"scale_drift"`
	LikelyScaleMismatch bool    `json:"likely_scale_mismatch"`
	SampleSize          int     `json:"sample_size"`
}

// CheckSimilarity establishes correspondence between two independently
// sized point sets by subsampling each (min(8000,len(src)),
// min(15000,len(dst)), drawn off one cfg.Seeds.Suggest42-seeded stream
// in source-then-target order) and pairing every sampled source point
// with its nearest sampled target point, then fits a similarity
// transform on those NN-derived pairs and flags a likely scale mismatch
// when the fitted scale drifts more than 3% from 1.0 (spec §6, grounded
// on original_source/app.py's similarity_check).
func CheckSimilarity(src, dst []Vec3, cfg Config) (SimilarityCheckResult, error) {
	if len(src) == 0 || len(dst) == 0 {
		return SimilarityCheckResult{}, &InputMissingError{Field: "source_points/target_points", Reason: "empty point set"}
	}

	rng := newDeterministicRand(cfg.Seeds.Suggest42)
	nSrc := similaritySourceSample
	if nSrc > len(src) {
		nSrc = len(src)
	}
	nDst := similarityTargetSample
	if nDst > len(dst) {
		nDst = len(dst)
	}
	srcSample := pickByIndices(src, sampleIndicesWithRand(len(src), nSrc, rng))
	dstSample := pickByIndices(dst, sampleIndicesWithRand(len(dst), nDst, rng))

	dstIndex := NewNeighborIndex(dstSample)
	nn := make([]Vec3, len(srcSample))
	for i, p := range srcSample {
		idx, _ := dstIndex.Nearest(p)
		nn[i] = dstSample[idx]
	}

	transform, err := Umeyama(srcSample, nn)
	if err != nil {
		return SimilarityCheckResult{}, err
	}
	drift := math.Abs(transform.S - 1)
	return SimilarityCheckResult{
		Scale:               transform.S,
		ScaleDrift:          drift,
		LikelyScaleMismatch: drift > scaleDriftThreshold,
		SampleSize:          len(srcSample),
	}, nil
}

func pickByIndices(pts []Vec3, idx []int) []Vec3 {
	out := make([]Vec3, len(idx))
	for i, j := range idx {
		out[i] = pts[j]
	}
	return out
}
