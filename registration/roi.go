package registration

import "math/rand"

// ROIResult is the subset of a larger geometry's vertices kept after ROI
// extraction, plus whether the fallback (full mesh) was used.
type ROIResult struct {
	Points    []Vec3
	Fallback  bool
	RadiusMM  float64
}

// ExtractROI implements the spec §4.6 ROI policy: the subset of larger's
// vertices whose distance to any of up to 1000 sampled points of
// smaller is <= r mm. If the ROI has fewer than 200 points, fall back to
// the full mesh.
func ExtractROI(larger GeomSource, smaller GeomSource, r float64, seed int64) ROIResult {
	largerPts := larger.Vertices()
	smallerPts := smaller.Vertices()

	sampled := smallerPts
	if len(sampled) > 1000 {
		sampled = samplePointSlice(sampled, 1000, seed)
	}

	idx := NewNeighborIndex(sampled)
	var roi []Vec3
	for _, p := range largerPts {
		_, d := idx.Nearest(p)
		if d <= r {
			roi = append(roi, p)
		}
	}

	if len(roi) < 200 {
		return ROIResult{Points: largerPts, Fallback: true, RadiusMM: r}
	}
	return ROIResult{Points: roi, Fallback: false, RadiusMM: r}
}

// IsFaceVsJaw reports whether a (larger,smaller) ROI split applies: one
// mesh is at least 1.5x the extent of the other (spec §4.6).
func IsFaceVsJaw(a, b GeomSource) (larger, smaller GeomSource, ok bool) {
	ae := a.Bounds().MaxExtent()
	be := b.Bounds().MaxExtent()
	if ae >= be*1.5 {
		return a, b, true
	}
	if be >= ae*1.5 {
		return b, a, true
	}
	return nil, nil, false
}

// sampleIndices deterministically draws n distinct indices into
// [0,total) (or all of them, in order, if n >= total), seeded for
// reproducibility (spec §9).
func sampleIndices(total, n int, seed int64) []int {
	return sampleIndicesWithRand(total, n, newDeterministicRand(seed))
}

// sampleIndicesWithRand is sampleIndices against an already-seeded
// generator, so a caller can draw several independent samples off one
// shared RNG stream in a fixed order (spec §9's `rng(42)` is drawn from
// sequentially for source then target in the similarity check).
func sampleIndicesWithRand(total, n int, rng *rand.Rand) []int {
	if n >= total {
		idx := make([]int, total)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	perm := rng.Perm(total)
	return append([]int(nil), perm[:n]...)
}

func samplePointSlice(pts []Vec3, n int, seed int64) []Vec3 {
	idx := sampleIndices(len(pts), n, seed)
	out := make([]Vec3, len(idx))
	for i, j := range idx {
		out[i] = pts[j]
	}
	return out
}

// samplePointsAndNormals samples pts the same way samplePointSlice does,
// carrying the matching normal for each sampled point along with it.
// normals is nil in the result when the source GeomSource has none.
func samplePointsAndNormals(pts, normals []Vec3, n int, seed int64) ([]Vec3, []Vec3) {
	idx := sampleIndices(len(pts), n, seed)
	outPts := make([]Vec3, len(idx))
	var outNormals []Vec3
	if len(normals) == len(pts) {
		outNormals = make([]Vec3, len(idx))
	}
	for i, j := range idx {
		outPts[i] = pts[j]
		if outNormals != nil {
			outNormals[i] = normals[j]
		}
	}
	return outPts, outNormals
}
