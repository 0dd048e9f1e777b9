package registration

import (
	"math/rand"
	"sort"
)

// SamplePointsWithNormals draws min(n, |vertices|) vertex indices
// without replacement, seeded deterministically, and returns the
// corresponding vertices, normals (zero vectors when absent or
// mismatched in length), and the chosen indices. An empty mesh yields
// empty slices (spec §4.1).
func SamplePointsWithNormals(m *Mesh, n int, seed int64) (points, normals []Vec3, indices []int) {
	verts := m.Vertices()
	if len(verts) == 0 || n <= 0 {
		return nil, nil, nil
	}
	if n > len(verts) {
		n = len(verts)
	}
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(len(verts))
	indices = append([]int(nil), perm[:n]...)
	sort.Ints(indices)

	meshNormals := m.Normals()
	hasNormals := len(meshNormals) == len(verts)

	points = make([]Vec3, n)
	normals = make([]Vec3, n)
	for i, idx := range indices {
		points[i] = verts[idx]
		if hasNormals {
			normals[i] = meshNormals[idx]
		}
	}
	return points, normals, indices
}

// SampleCurvature returns a [0,1]-normalized curvature proxy for the
// given vertex indices, clipped to the 5th/95th percentile range of the
// sampled subset. Missing mesh curvature data, or a failed (degenerate)
// normalization, yields all zeros (spec §4.1).
func SampleCurvature(m *Mesh, indices []int) []float64 {
	out := make([]float64, len(indices))
	curv := m.Curvature()
	if len(curv) == 0 {
		return out
	}
	raw := make([]float64, 0, len(indices))
	for _, idx := range indices {
		if idx >= 0 && idx < len(curv) {
			v := curv[idx]
			if v < 0 {
				v = -v
			}
			raw = append(raw, v)
		} else {
			raw = append(raw, 0)
		}
	}
	lo := percentile(raw, 5)
	hi := percentile(raw, 95)
	if hi-lo < 1e-12 {
		return out
	}
	for i, v := range raw {
		c := (v - lo) / (hi - lo)
		if c < 0 {
			c = 0
		}
		if c > 1 {
			c = 1
		}
		out[i] = c
	}
	return out
}

// newDeterministicRand returns a PRNG seeded exactly by seed (spec §9:
// seeded RNG contract). SamplePointsWithNormals, RANSAC global
// registration and the manual-landmark triplet draw build their own
// identically seeded rand.New instead of calling it.
func newDeterministicRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// AABBCenter returns (min+max)/2 for m's bounding box.
func AABBCenter(m *Mesh) Vec3 { return m.Bounds().Center() }

// Extents returns max-min for m's bounding box.
func Extents(m *Mesh) Vec3 { return m.Bounds().Extents() }

// percentile returns the p-th percentile (0..100) of values using linear
// interpolation between closest ranks; it does not mutate values.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
