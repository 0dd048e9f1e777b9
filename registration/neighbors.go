package registration

import (
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// bruteForceChunk is the chunk size used for memory-bounded brute-force
// fallback (spec §4.2/§5: chunk 512, capped peak memory).
const bruteForceChunk = 512

// kdTreeThreshold is the reference-set size above which a spatial index
// is used instead of chunked brute force (spec §4.2: >10^4 points).
const kdTreeThreshold = 10000

// indexedPoint is a kdtree.Comparable carrying the point's original
// index into the reference slice it was built from.
type indexedPoint struct {
	p   Vec3
	idx int
}

func (a indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	b := c.(indexedPoint)
	switch d {
	case 0:
		return a.p.X - b.p.X
	case 1:
		return a.p.Y - b.p.Y
	default:
		return a.p.Z - b.p.Z
	}
}

func (a indexedPoint) Dims() int { return 3 }

func (a indexedPoint) Distance(c kdtree.Comparable) float64 {
	b := c.(indexedPoint)
	return a.p.Dist(b.p)
}

// indexedPoints implements kdtree.Interface over a slice of indexedPoint,
// partitioning by a full sort along the pivot dimension on each Pivot
// call — correct (if not maximally efficient) median selection, which is
// acceptable since the reference sets here are bounded at a few times
// kdTreeThreshold per registration call.
type indexedPoints []indexedPoint

func (p indexedPoints) Index(i int) kdtree.Comparable { return p[i] }
func (p indexedPoints) Len() int                      { return len(p) }
func (p indexedPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p indexedPoints) Pivot(d kdtree.Dim) int {
	sort.Slice(p, func(i, j int) bool {
		switch d {
		case 0:
			return p[i].p.X < p[j].p.X
		case 1:
			return p[i].p.Y < p[j].p.Y
		default:
			return p[i].p.Z < p[j].p.Z
		}
	})
	return len(p) / 2
}

// NeighborIndex answers nearest-neighbor and radius queries against a
// fixed reference point set, choosing a KD-tree for large reference sets
// and chunked brute force otherwise (spec §4.2).
type NeighborIndex struct {
	ref  []Vec3
	tree *kdtree.Tree
}

// NewNeighborIndex builds an index over ref. Queries are deterministic
// given identical inputs.
func NewNeighborIndex(ref []Vec3) *NeighborIndex {
	n := &NeighborIndex{ref: ref}
	if len(ref) > kdTreeThreshold {
		pts := make(indexedPoints, len(ref))
		for i, p := range ref {
			pts[i] = indexedPoint{p: p, idx: i}
		}
		n.tree = kdtree.New(pts, true)
	}
	return n
}

// Nearest returns the index into ref and distance of the reference point
// closest to q.
func (n *NeighborIndex) Nearest(q Vec3) (idx int, dist float64) {
	if len(n.ref) == 0 {
		return -1, 0
	}
	if n.tree != nil {
		comp, _ := n.tree.Nearest(indexedPoint{p: q})
		ip := comp.(indexedPoint)
		return ip.idx, q.Dist(ip.p)
	}
	return n.bruteNearest(q)
}

func (n *NeighborIndex) bruteNearest(q Vec3) (int, float64) {
	best, bestDist := -1, 0.0
	for start := 0; start < len(n.ref); start += bruteForceChunk {
		end := start + bruteForceChunk
		if end > len(n.ref) {
			end = len(n.ref)
		}
		for i := start; i < end; i++ {
			d := q.Dist(n.ref[i])
			if best == -1 || d < bestDist {
				best, bestDist = i, d
			}
		}
	}
	return best, bestDist
}

// KNN returns the k nearest reference indices and distances to q, sorted
// ascending by distance.
func (n *NeighborIndex) KNN(q Vec3, k int) (indices []int, dists []float64) {
	if k <= 0 || len(n.ref) == 0 {
		return nil, nil
	}
	if k > len(n.ref) {
		k = len(n.ref)
	}
	if n.tree != nil {
		keeper := kdtree.NewNKeeper(k)
		n.tree.NearestSet(keeper, indexedPoint{p: q})
		type pair struct {
			idx  int
			dist float64
		}
		pairs := make([]pair, 0, keeper.Heap.Len())
		for _, cd := range keeper.Heap {
			if cd.Comparable == nil {
				continue
			}
			ip := cd.Comparable.(indexedPoint)
			pairs = append(pairs, pair{idx: ip.idx, dist: q.Dist(ip.p)})
		}
		sort.Slice(pairs, func(i, j int) bool { return pairs[i].dist < pairs[j].dist })
		indices = make([]int, len(pairs))
		dists = make([]float64, len(pairs))
		for i, pr := range pairs {
			indices[i], dists[i] = pr.idx, pr.dist
		}
		return indices, dists
	}
	return n.bruteKNN(q, k)
}

func (n *NeighborIndex) bruteKNN(q Vec3, k int) ([]int, []float64) {
	type pair struct {
		idx  int
		dist float64
	}
	all := make([]pair, 0, len(n.ref))
	for start := 0; start < len(n.ref); start += bruteForceChunk {
		end := start + bruteForceChunk
		if end > len(n.ref) {
			end = len(n.ref)
		}
		for i := start; i < end; i++ {
			all = append(all, pair{idx: i, dist: q.Dist(n.ref[i])})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].dist < all[j].dist })
	if k > len(all) {
		k = len(all)
	}
	indices := make([]int, k)
	dists := make([]float64, k)
	for i := 0; i < k; i++ {
		indices[i], dists[i] = all[i].idx, all[i].dist
	}
	return indices, dists
}

// Radius returns the indices of every reference point within r of q.
func (n *NeighborIndex) Radius(q Vec3, r float64) []int {
	if n.tree != nil {
		keeper := kdtree.NewDistKeeper(r)
		n.tree.NearestSet(keeper, indexedPoint{p: q})
		out := make([]int, 0, keeper.Heap.Len())
		for _, cd := range keeper.Heap {
			if cd.Comparable == nil {
				continue
			}
			out = append(out, cd.Comparable.(indexedPoint).idx)
		}
		return out
	}
	return n.bruteRadius(q, r)
}

func (n *NeighborIndex) bruteRadius(q Vec3, r float64) []int {
	var out []int
	for start := 0; start < len(n.ref); start += bruteForceChunk {
		end := start + bruteForceChunk
		if end > len(n.ref) {
			end = len(n.ref)
		}
		for i := start; i < end; i++ {
			if q.Dist(n.ref[i]) <= r {
				out = append(out, i)
			}
		}
	}
	return out
}

// KNNBatch runs KNN for every query point, returning parallel index/dist
// slices per query (spec §4.2: knn(query_pts, ref_pts, k)).
func KNNBatch(queries, ref []Vec3, k int) (indices [][]int, dists [][]float64) {
	idx := NewNeighborIndex(ref)
	indices = make([][]int, len(queries))
	dists = make([][]float64, len(queries))
	for i, q := range queries {
		indices[i], dists[i] = idx.KNN(q, k)
	}
	return indices, dists
}

// ClosestPointOnMesh approximates closest-surface-point queries by
// nearest-vertex lookup over an (optionally downsampled) vertex sample,
// the documented fallback when true triangle-surface queries are
// unavailable (spec §4.2). It returns the nearest vertex index and
// distance for each query point.
func ClosestPointOnMesh(m *Mesh, queries []Vec3) (indices []int, dists []float64) {
	verts := m.Vertices()
	if len(verts) > 18000 {
		sampled, _, sampledIdx := SamplePointsWithNormals(m, 18000, DefaultSeeds().Sample11)
		idx := NewNeighborIndex(sampled)
		indices = make([]int, len(queries))
		dists = make([]float64, len(queries))
		for i, q := range queries {
			local, d := idx.Nearest(q)
			if local == -1 {
				indices[i], dists[i] = -1, 0
				continue
			}
			indices[i], dists[i] = sampledIdx[local], d
		}
		return indices, dists
	}
	idx := NewNeighborIndex(verts)
	indices = make([]int, len(queries))
	dists = make([]float64, len(queries))
	for i, q := range queries {
		indices[i], dists[i] = idx.Nearest(q)
	}
	return indices, dists
}
