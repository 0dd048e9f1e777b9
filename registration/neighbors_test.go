package registration

import "testing"

func TestNeighborIndexNearestBruteForce(t *testing.T) {
	ref := []Vec3{{X: 0}, {X: 10}, {X: 20}, {X: 30}}
	idx := NewNeighborIndex(ref)
	got, dist := idx.Nearest(Vec3{X: 22})
	if got != 2 {
		t.Errorf("Nearest index = %d, want 2", got)
	}
	if !almostEqual(dist, 2) {
		t.Errorf("Nearest dist = %v, want 2", dist)
	}
}

func TestNeighborIndexNearestKDTree(t *testing.T) {
	ref := gridPoints(25, 1) // 25^3 = 15625 > kdTreeThreshold, forces the kd-tree path
	idx := NewNeighborIndex(ref)
	if idx.tree == nil {
		t.Fatal("expected a kd-tree to be built for a reference set above the threshold")
	}
	query := Vec3{X: 5.4, Y: 5.4, Z: 5.4}
	got, dist := idx.Nearest(query)
	bruteIdx, bruteDist := bruteForceNearestReference(ref, query)
	if got != bruteIdx {
		t.Errorf("kd-tree Nearest index = %d, want brute-force index %d", got, bruteIdx)
	}
	if !almostEqual(dist, bruteDist) {
		t.Errorf("kd-tree Nearest dist = %v, want brute-force dist %v", dist, bruteDist)
	}
}

func TestNeighborIndexKNNOrdering(t *testing.T) {
	ref := []Vec3{{X: 0}, {X: 1}, {X: 5}, {X: 9}, {X: 12}}
	idx := NewNeighborIndex(ref)
	indices, dists := idx.KNN(Vec3{X: 8}, 3)
	if len(indices) != 3 {
		t.Fatalf("KNN returned %d results, want 3", len(indices))
	}
	for i := 1; i < len(dists); i++ {
		if dists[i] < dists[i-1] {
			t.Errorf("KNN dists not sorted ascending: %v", dists)
		}
	}
	if indices[0] != 3 { // X:9 is the closest point to query X:8
		t.Errorf("closest KNN index = %d, want 3", indices[0])
	}
}

func TestNeighborIndexRadius(t *testing.T) {
	ref := []Vec3{{X: 0}, {X: 2}, {X: 4}, {X: 100}}
	idx := NewNeighborIndex(ref)
	got := idx.Radius(Vec3{X: 1}, 3)
	if len(got) != 3 {
		t.Errorf("Radius returned %d points, want 3 (indices 0, 1 and 2; X:4 lies exactly at r and the bound is inclusive)", len(got))
	}
}

func TestNeighborIndexRadiusKDTree(t *testing.T) {
	ref := gridPoints(25, 1) // 25^3 = 15625 > kdTreeThreshold, forces the kd-tree path
	idx := NewNeighborIndex(ref)
	if idx.tree == nil {
		t.Fatal("expected a kd-tree to be built for a reference set above the threshold")
	}
	query := Vec3{X: 5.4, Y: 5.4, Z: 5.4}
	r := 2.5
	got := idx.Radius(query, r)
	want := idx.bruteRadius(query, r)
	if len(got) != len(want) {
		t.Fatalf("kd-tree Radius returned %d points, want %d from brute force", len(got), len(want))
	}
	gotSet := make(map[int]bool, len(got))
	for _, i := range got {
		gotSet[i] = true
	}
	for _, i := range want {
		if !gotSet[i] {
			t.Errorf("kd-tree Radius missing index %d present in brute-force result", i)
		}
	}
}

func bruteForceNearestReference(ref []Vec3, q Vec3) (int, float64) {
	best, bestDist := -1, 0.0
	for i, p := range ref {
		d := q.Dist(p)
		if best == -1 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}
