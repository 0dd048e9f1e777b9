package registration

import (
	"math"
	"math/rand"
	"sort"
)

// VoxelDownsample bins points into a regular voxel_size grid and
// replaces each occupied voxel with the centroid of its members,
// following spec §4.4 step 1.
func VoxelDownsample(pts []Vec3, voxel float64) []Vec3 {
	if voxel <= 0 || len(pts) == 0 {
		return append([]Vec3(nil), pts...)
	}
	type cell struct{ x, y, z int64 }
	buckets := make(map[cell][]Vec3)
	for _, p := range pts {
		c := cell{
			x: int64(math.Floor(p.X / voxel)),
			y: int64(math.Floor(p.Y / voxel)),
			z: int64(math.Floor(p.Z / voxel)),
		}
		buckets[c] = append(buckets[c], p)
	}
	out := make([]Vec3, 0, len(buckets))
	for _, members := range buckets {
		out = append(out, centroid(members))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].Z < out[j].Z
	})
	return out
}

// EstimateNormals computes a per-point normal from the local
// covariance's smallest-eigenvalue eigenvector over a hybrid
// radius/max-neighbor search, per spec §4.4 step 2.
func EstimateNormals(pts []Vec3, radius float64, maxNeighbors int) []Vec3 {
	if len(pts) == 0 {
		return nil
	}
	idx := NewNeighborIndex(pts)
	normals := make([]Vec3, len(pts))
	refCentroid := centroid(pts)
	for i, p := range pts {
		neighborIdx := idx.Radius(p, radius)
		if len(neighborIdx) > maxNeighbors {
			sort.Slice(neighborIdx, func(a, b int) bool {
				return p.Dist(pts[neighborIdx[a]]) < p.Dist(pts[neighborIdx[b]])
			})
			neighborIdx = neighborIdx[:maxNeighbors]
		}
		if len(neighborIdx) < 3 {
			normals[i] = Vec3{}
			continue
		}
		neighbors := make([]Vec3, len(neighborIdx))
		for j, ni := range neighborIdx {
			neighbors[j] = pts[ni]
		}
		frame, eig, err := PCAFrame(neighbors)
		if err != nil {
			normals[i] = Vec3{}
			continue
		}
		// The normal is the eigenvector of smallest eigenvalue — the
		// third column after PCAFrame's descending order.
		_ = eig
		n := Vec3{X: frame[0][2], Y: frame[1][2], Z: frame[2][2]}
		// Orient outward from the cloud centroid for consistency.
		if n.Dot(p.Sub(refCentroid)) < 0 {
			n = n.Scale(-1)
		}
		normals[i] = n.Normalized()
	}
	return normals
}

// fpfhDims is the dimensionality of the FPFH descriptor (spec §4.4).
const fpfhDims = 33

// ComputeFPFH builds a 33-dim Fast Point Feature Histogram per point,
// following the two-stage SPFH-then-neighbor-weighted-average scheme:
// for each point, bin the (alpha, phi, theta) angular relationships to
// each neighbor within radius into 11 bins per feature, then average a
// point's SPFH with its neighbors' SPFH weighted by inverse distance
// (spec §4.4 step 3).
func ComputeFPFH(pts, normals []Vec3, radius float64, maxNeighbors int) [][]float64 {
	if len(pts) == 0 {
		return nil
	}
	idx := NewNeighborIndex(pts)
	neighborSets := make([][]int, len(pts))
	for i, p := range pts {
		ns := idx.Radius(p, radius)
		if len(ns) > maxNeighbors {
			sort.Slice(ns, func(a, b int) bool {
				return p.Dist(pts[ns[a]]) < p.Dist(pts[ns[b]])
			})
			ns = ns[:maxNeighbors]
		}
		neighborSets[i] = ns
	}

	spfh := make([][]float64, len(pts))
	for i := range pts {
		spfh[i] = computeSPFH(pts, normals, i, neighborSets[i])
	}

	fpfh := make([][]float64, len(pts))
	for i := range pts {
		out := append([]float64(nil), spfh[i]...)
		var weightSum float64
		for _, j := range neighborSets[i] {
			d := pts[i].Dist(pts[j])
			if d < 1e-9 {
				continue
			}
			w := 1 / d
			weightSum += w
			for k := 0; k < fpfhDims; k++ {
				out[k] += w * spfh[j][k]
			}
		}
		if weightSum > 0 {
			for k := 0; k < fpfhDims; k++ {
				out[k] /= (1 + weightSum)
			}
		}
		fpfh[i] = out
	}
	return fpfh
}

func computeSPFH(pts, normals []Vec3, i int, neighbors []int) []float64 {
	hist := make([]float64, fpfhDims)
	if len(neighbors) == 0 || len(normals) != len(pts) {
		return hist
	}
	const binsPerFeature = fpfhDims / 3
	pi, ni := pts[i], normals[i].Normalized()
	var count float64
	for _, j := range neighbors {
		if j == i {
			continue
		}
		pj, nj := pts[j], normals[j].Normalized()
		diff := pj.Sub(pi)
		dist := diff.Norm()
		if dist < 1e-9 {
			continue
		}
		u := ni
		v := u.Cross(diff.Normalized())
		w := u.Cross(v)

		alpha := v.Dot(nj)
		phi := u.Dot(diff.Normalized())
		theta := math.Atan2(w.Dot(nj), u.Dot(nj))

		binAlpha := clampBin(int((alpha+1)/2*float64(binsPerFeature)), binsPerFeature)
		binPhi := clampBin(int((phi+1)/2*float64(binsPerFeature)), binsPerFeature)
		binTheta := clampBin(int((theta+math.Pi)/(2*math.Pi)*float64(binsPerFeature)), binsPerFeature)

		hist[binAlpha]++
		hist[binsPerFeature+binPhi]++
		hist[2*binsPerFeature+binTheta]++
		count++
	}
	if count > 0 {
		for k := range hist {
			hist[k] /= count
		}
	}
	return hist
}

func clampBin(b, n int) int {
	if b < 0 {
		return 0
	}
	if b >= n {
		return n - 1
	}
	return b
}

func fpfhDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// RANSACResult is the output of RANSAC global registration: the best
// candidate rigid transform plus its inlier fitness and RMSE.
type RANSACResult struct {
	Transform RigidTransform
	Fitness   float64
	RMSE      float64
	Inliers   int
}

// RANSACGlobalRegistration samples 4-point correspondences from feature
// matching and checks them with an edge-length-ratio and
// correspondence-distance checker, up to maxIterations iterations or
// maxValidations successful validations, whichever is reached first
// (spec §4.4 step 4).
func RANSACGlobalRegistration(srcPts, dstPts []Vec3, srcFeat, dstFeat [][]float64, voxel float64, seed int64, maxIterations, maxValidations int) (RANSACResult, error) {
	if len(srcPts) < 4 || len(dstPts) < 4 {
		return RANSACResult{}, &DegenerateInputError{Reason: "fewer than 4 points for RANSAC"}
	}
	rng := rand.New(rand.NewSource(seed))

	// Precompute, for each source point, its best-matching target index
	// by feature distance (mutual-feature correspondence candidates).
	matchIdx := NewFeatureIndex(dstFeat)
	candidateTarget := make([]int, len(srcPts))
	for i := range srcPts {
		candidateTarget[i] = matchIdx.Nearest(srcFeat[i])
	}

	const ransacN = 4
	edgeRatioMin := 0.9
	distMax := 1.5 * voxel

	var best RANSACResult
	validations := 0
	for iter := 0; iter < maxIterations && validations < maxValidations; iter++ {
		idxs := sample4(rng, len(srcPts))
		srcQuad := make([]Vec3, ransacN)
		dstQuad := make([]Vec3, ransacN)
		ok := true
		for k, si := range idxs {
			srcQuad[k] = srcPts[si]
			ti := candidateTarget[si]
			if ti < 0 {
				ok = false
				break
			}
			dstQuad[k] = dstPts[ti]
		}
		if !ok {
			continue
		}
		if !edgeLengthRatioCheck(srcQuad, dstQuad, edgeRatioMin) {
			continue
		}
		validations++

		transform, err := Kabsch(srcQuad, dstQuad)
		if err != nil {
			continue
		}
		for k := range srcQuad {
			if transform.Apply(srcQuad[k]).Dist(dstQuad[k]) > distMax {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}

		fitness, rmse, inliers := evaluateTransform(transform, srcPts, dstPts, distMax)
		if fitness > best.Fitness {
			best = RANSACResult{Transform: transform, Fitness: fitness, RMSE: rmse, Inliers: inliers}
		}
	}

	if best.Inliers == 0 {
		return RANSACResult{}, &NumericalFailureError{Op: "RANSACGlobalRegistration", Reason: "no valid candidate found within iteration/validation budget"}
	}
	return best, nil
}

func sample4(rng *rand.Rand, n int) [4]int {
	var out [4]int
	for {
		seen := map[int]bool{}
		ok := true
		for i := 0; i < 4; i++ {
			v := rng.Intn(n)
			if seen[v] {
				ok = false
				break
			}
			seen[v] = true
			out[i] = v
		}
		if ok {
			return out
		}
	}
}

func edgeLengthRatioCheck(a, b []Vec3, minRatio float64) bool {
	for i := 0; i < len(a); i++ {
		for j := i + 1; j < len(a); j++ {
			da := a[i].Dist(a[j])
			db := b[i].Dist(b[j])
			if da < 1e-9 || db < 1e-9 {
				return false
			}
			ratio := da / db
			if ratio > 1 {
				ratio = 1 / ratio
			}
			if ratio < minRatio {
				return false
			}
		}
	}
	return true
}

func evaluateTransform(t RigidTransform, srcPts, dstPts []Vec3, distMax float64) (fitness, rmse float64, inliers int) {
	idx := NewNeighborIndex(dstPts)
	var sumSq float64
	for _, p := range srcPts {
		tp := t.Apply(p)
		_, d := idx.Nearest(tp)
		if d <= distMax {
			inliers++
			sumSq += d * d
		}
	}
	if len(srcPts) > 0 {
		fitness = float64(inliers) / float64(len(srcPts))
	}
	if inliers > 0 {
		rmse = math.Sqrt(sumSq / float64(inliers))
	}
	return fitness, rmse, inliers
}

// FeatureIndex answers nearest-feature-vector queries by linear scan;
// FPFH feature sets in this pipeline are bounded to the downsampled
// voxel grid (typically a few thousand points), so brute force is
// sufficient and keeps the comparator generic.
type FeatureIndex struct {
	features [][]float64
}

// NewFeatureIndex builds a FeatureIndex over features.
func NewFeatureIndex(features [][]float64) *FeatureIndex {
	return &FeatureIndex{features: features}
}

// Nearest returns the index of the feature vector closest to q, or -1
// if the index is empty.
func (f *FeatureIndex) Nearest(q []float64) int {
	best, bestDist := -1, math.MaxFloat64
	for i, feat := range f.features {
		d := fpfhDistance(q, feat)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}
