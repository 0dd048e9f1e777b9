package registration

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// RigidTransform is a 3x3 rotation with det(R)=+1 and a translation,
// composable as a homogeneous 4x4 (spec §3).
type RigidTransform struct {
	R [3][3]float64
	T Vec3
}

// Identity returns the identity rigid transform.
func Identity() RigidTransform {
	return RigidTransform{R: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}}
}

// Apply transforms p by R then T.
func (t RigidTransform) Apply(p Vec3) Vec3 {
	r := t.R
	return Vec3{
		X: r[0][0]*p.X + r[0][1]*p.Y + r[0][2]*p.Z + t.T.X,
		Y: r[1][0]*p.X + r[1][1]*p.Y + r[1][2]*p.Z + t.T.Y,
		Z: r[2][0]*p.X + r[2][1]*p.Y + r[2][2]*p.Z + t.T.Z,
	}
}

// ApplyAll transforms every point in pts.
func (t RigidTransform) ApplyAll(pts []Vec3) []Vec3 {
	out := make([]Vec3, len(pts))
	for i, p := range pts {
		out[i] = t.Apply(p)
	}
	return out
}

// ApplyRotation rotates a direction (e.g. a surface normal) by R without
// translating it.
func (t RigidTransform) ApplyRotation(v Vec3) Vec3 {
	r := t.R
	return Vec3{
		X: r[0][0]*v.X + r[0][1]*v.Y + r[0][2]*v.Z,
		Y: r[1][0]*v.X + r[1][1]*v.Y + r[1][2]*v.Z,
		Z: r[2][0]*v.X + r[2][1]*v.Y + r[2][2]*v.Z,
	}
}

// ApplyRotationAll rotates every direction in vs by R without translating.
func (t RigidTransform) ApplyRotationAll(vs []Vec3) []Vec3 {
	out := make([]Vec3, len(vs))
	for i, v := range vs {
		out[i] = t.ApplyRotation(v)
	}
	return out
}

// Inverse returns the rigid transform undoing t: for orthogonal R,
// R^-1 = R^T, so y = R*x+T implies x = R^T*y - R^T*T.
func (t RigidTransform) Inverse() RigidTransform {
	rt := mat3Transpose(t.R)
	negRtT := Vec3{
		X: -(rt[0][0]*t.T.X + rt[0][1]*t.T.Y + rt[0][2]*t.T.Z),
		Y: -(rt[1][0]*t.T.X + rt[1][1]*t.T.Y + rt[1][2]*t.T.Z),
		Z: -(rt[2][0]*t.T.X + rt[2][1]*t.T.Y + rt[2][2]*t.T.Z),
	}
	return RigidTransform{R: rt, T: negRtT}
}

// Compose returns the transform equivalent to first applying t, then u.
func (t RigidTransform) Compose(u RigidTransform) RigidTransform {
	var r [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var s float64
			for k := 0; k < 3; k++ {
				s += u.R[i][k] * t.R[k][j]
			}
			r[i][j] = s
		}
	}
	return RigidTransform{R: r, T: u.Apply(t.T)}
}

// SimilarityTransform adds a scalar scale on top of a RigidTransform; it
// is diagnostic-only (spec §3): Y ≈ s*R*X + t.
type SimilarityTransform struct {
	S float64
	R [3][3]float64
	T Vec3
}

// Apply transforms p by scale, then rotation, then translation.
func (t SimilarityTransform) Apply(p Vec3) Vec3 {
	r := t.R
	sp := p.Scale(t.S)
	return Vec3{
		X: r[0][0]*sp.X + r[0][1]*sp.Y + r[0][2]*sp.Z + t.T.X,
		Y: r[1][0]*sp.X + r[1][1]*sp.Y + r[1][2]*sp.Z + t.T.Y,
		Z: r[2][0]*sp.X + r[2][1]*sp.Y + r[2][2]*sp.Z + t.T.Z,
	}
}

func centroid(pts []Vec3) Vec3 {
	var c Vec3
	for _, p := range pts {
		c = c.Add(p)
	}
	if len(pts) > 0 {
		c = c.Scale(1 / float64(len(pts)))
	}
	return c
}

func pointsToDense(pts []Vec3) *mat.Dense {
	d := mat.NewDense(len(pts), 3, nil)
	for i, p := range pts {
		d.SetRow(i, []float64{p.X, p.Y, p.Z})
	}
	return d
}

func denseToMat3(d *mat.Dense) [3][3]float64 {
	var r [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = d.At(i, j)
		}
	}
	return r
}

// Kabsch computes the rigid transform R,t (det(R)=+1) minimizing
// sum ||R*x_i + t - y_i||^2 for paired point sets x, y of equal length
// n>=3, following the closed-form SVD solution with reflection
// correction (spec §4.3). It returns a NumericalFailureError if the SVD
// does not converge, and a DegenerateInputError if fewer than 3 points
// are supplied.
func Kabsch(x, y []Vec3) (RigidTransform, error) {
	if len(x) != len(y) {
		return RigidTransform{}, &InputMissingError{Field: "source_points/target_points", Reason: "length mismatch"}
	}
	if len(x) < 3 {
		return RigidTransform{}, &DegenerateInputError{Reason: "fewer than 3 paired points"}
	}

	muX, muY := centroid(x), centroid(y)
	xc := make([]Vec3, len(x))
	yc := make([]Vec3, len(y))
	for i := range x {
		xc[i] = x[i].Sub(muX)
		yc[i] = y[i].Sub(muY)
	}

	// H = Xc^T Yc (3x3 cross-covariance).
	Xc := pointsToDense(xc)
	Yc := pointsToDense(yc)
	h := mat.NewDense(3, 3, nil)
	h.Mul(Xc.T(), Yc)

	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return RigidTransform{}, &NumericalFailureError{Op: "Kabsch", Reason: "SVD factorization failed"}
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	d := 1.0
	if mat.Det(&v)*mat.Det(&u) < 0 {
		d = -1
	}
	diag := mat.NewDiagDense(3, []float64{1, 1, d})

	var r mat.Dense
	r.Product(&v, diag, u.T())

	R := denseToMat3(&r)
	translation := muY.Sub(Vec3{X: R[0][0]*muX.X + R[0][1]*muX.Y + R[0][2]*muX.Z,
		Y: R[1][0]*muX.X + R[1][1]*muX.Y + R[1][2]*muX.Z,
		Z: R[2][0]*muX.X + R[2][1]*muX.Y + R[2][2]*muX.Z})

	return RigidTransform{R: R, T: translation}, nil
}

// CalculateWeightedRigidTransform is the weighted variant of Kabsch,
// fitting a transform over per-correspondence weights (e.g. inlier
// masks or confidence scores). Nothing in this package calls it; the
// ICP point-to-point stages fit with the unweighted Kabsch.
func CalculateWeightedRigidTransform(x, y []Vec3, w []float64) (RigidTransform, error) {
	if len(x) != len(y) || len(x) != len(w) {
		return RigidTransform{}, &InputMissingError{Field: "x/y/w", Reason: "length mismatch"}
	}
	var totalW float64
	for _, wi := range w {
		totalW += wi
	}
	if len(x) < 3 || totalW < 1e-9 {
		return RigidTransform{}, &DegenerateInputError{Reason: "insufficient weighted points"}
	}

	var muX, muY Vec3
	for i := range x {
		muX = muX.Add(x[i].Scale(w[i]))
		muY = muY.Add(y[i].Scale(w[i]))
	}
	muX = muX.Scale(1 / totalW)
	muY = muY.Scale(1 / totalW)

	h := mat.NewDense(3, 3, nil)
	for i := range x {
		xc := x[i].Sub(muX)
		yc := y[i].Sub(muY)
		wi := w[i]
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h.Set(r, c, h.At(r, c)+wi*vecAt(xc, r)*vecAt(yc, c))
			}
		}
	}

	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return RigidTransform{}, &NumericalFailureError{Op: "WeightedKabsch", Reason: "SVD factorization failed"}
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	d := 1.0
	if mat.Det(&v)*mat.Det(&u) < 0 {
		d = -1
	}
	diag := mat.NewDiagDense(3, []float64{1, 1, d})
	var r mat.Dense
	r.Product(&v, diag, u.T())
	R := denseToMat3(&r)

	translation := muY.Sub(Vec3{
		X: R[0][0]*muX.X + R[0][1]*muX.Y + R[0][2]*muX.Z,
		Y: R[1][0]*muX.X + R[1][1]*muX.Y + R[1][2]*muX.Z,
		Z: R[2][0]*muX.X + R[2][1]*muX.Y + R[2][2]*muX.Z,
	})
	return RigidTransform{R: R, T: translation}, nil
}

func vecAt(v Vec3, axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// Umeyama extends Kabsch with a scalar scale s = trace(D*S)/var(X),
// following Shinji Umeyama's least-squares similarity estimator (spec
// §4.3), grounded directly on gonum.org/v1/gonum/spatial/transform's
// Umeyama implementation.
func Umeyama(x, y []Vec3) (SimilarityTransform, error) {
	if len(x) != len(y) {
		return SimilarityTransform{}, &InputMissingError{Field: "x/y", Reason: "length mismatch"}
	}
	if len(x) < 3 {
		return SimilarityTransform{}, &DegenerateInputError{Reason: "fewer than 3 paired points"}
	}
	n := len(x)

	muX, muY := Vec3{}, Vec3{}
	var varX float64
	xs := make([][]float64, 3)
	for axis := 0; axis < 3; axis++ {
		col := make([]float64, n)
		for i, p := range x {
			col[i] = vecAt(p, axis)
		}
		mean, v := stat.PopMeanVariance(col, nil)
		varX += v
		xs[axis] = col
		switch axis {
		case 0:
			muX.X = mean
		case 1:
			muX.Y = mean
		default:
			muX.Z = mean
		}
	}
	for axis := 0; axis < 3; axis++ {
		col := make([]float64, n)
		for i, p := range y {
			col[i] = vecAt(p, axis)
		}
		mean := stat.Mean(col, nil)
		switch axis {
		case 0:
			muY.X = mean
		case 1:
			muY.Y = mean
		default:
			muY.Z = mean
		}
	}

	if varX <= 1e-10 {
		return SimilarityTransform{}, &DegenerateInputError{Reason: "near-zero source variance"}
	}

	xc := make([]Vec3, n)
	yc := make([]Vec3, n)
	for i := range x {
		xc[i] = x[i].Sub(muX)
		yc[i] = y[i].Sub(muY)
	}
	Xc := pointsToDense(xc)
	Yc := pointsToDense(yc)
	cov := mat.NewDense(3, 3, nil)
	cov.Mul(Yc.T(), Xc)
	cov.Scale(1/float64(n), cov)

	var svd mat.SVD
	if !svd.Factorize(cov, mat.SVDFull) {
		return SimilarityTransform{}, &NumericalFailureError{Op: "Umeyama", Reason: "SVD factorization failed"}
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	s := mat.NewDiagDense(3, []float64{1, 1, 1})
	if mat.Det(&u)*mat.Det(&v) < 0 {
		s.SetDiag(2, -1)
	}

	singular := svd.Values(nil)
	var c float64
	for i := 0; i < 3; i++ {
		c += singular[i] * s.At(i, i)
	}
	c /= varX

	var r mat.Dense
	r.Product(&u, s, v.T())
	R := denseToMat3(&r)

	rMuX := Vec3{
		X: R[0][0]*muX.X + R[0][1]*muX.Y + R[0][2]*muX.Z,
		Y: R[1][0]*muX.X + R[1][1]*muX.Y + R[1][2]*muX.Z,
		Z: R[2][0]*muX.X + R[2][1]*muX.Y + R[2][2]*muX.Z,
	}
	t := muY.Sub(rMuX.Scale(c))

	return SimilarityTransform{S: c, R: R, T: t}, nil
}

// PCAFrame computes the covariance eigendecomposition of pts, ordering
// eigenvectors by descending eigenvalue and forcing a right-handed frame
// (flip the last column when det<0), per spec §4.3.
func PCAFrame(pts []Vec3) (frame [3][3]float64, eigenvalues [3]float64, err error) {
	if len(pts) < 3 {
		return frame, eigenvalues, &DegenerateInputError{Reason: "fewer than 3 points for PCA"}
	}
	mu := centroid(pts)
	cov := mat.NewSymDense(3, nil)
	var cxx, cxy, cxz, cyy, cyz, czz float64
	for _, p := range pts {
		d := p.Sub(mu)
		cxx += d.X * d.X
		cxy += d.X * d.Y
		cxz += d.X * d.Z
		cyy += d.Y * d.Y
		cyz += d.Y * d.Z
		czz += d.Z * d.Z
	}
	n := float64(len(pts))
	cov.SetSym(0, 0, cxx/n)
	cov.SetSym(0, 1, cxy/n)
	cov.SetSym(0, 2, cxz/n)
	cov.SetSym(1, 1, cyy/n)
	cov.SetSym(1, 2, cyz/n)
	cov.SetSym(2, 2, czz/n)

	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return frame, eigenvalues, &NumericalFailureError{Op: "PCAFrame", Reason: "eigendecomposition failed"}
	}
	values := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	type ev struct {
		val float64
		col int
	}
	order := []ev{{values[0], 0}, {values[1], 1}, {values[2], 2}}
	// Sort descending by eigenvalue.
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && order[j].val > order[j-1].val; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
	for i, o := range order {
		eigenvalues[i] = o.val
		for r := 0; r < 3; r++ {
			frame[r][i] = vecs.At(r, o.col)
		}
	}

	if det3(frame) < 0 {
		for r := 0; r < 3; r++ {
			frame[r][2] = -frame[r][2]
		}
	}
	return frame, eigenvalues, nil
}

func det3(m [3][3]float64) float64 {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

func mat3Mul(a, b [3][3]float64) [3][3]float64 {
	var r [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var s float64
			for k := 0; k < 3; k++ {
				s += a[i][k] * b[k][j]
			}
			r[i][j] = s
		}
	}
	return r
}

func mat3Transpose(a [3][3]float64) [3][3]float64 {
	var r [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = a[j][i]
		}
	}
	return r
}

// EulerXYZ builds a rotation matrix from Euler angles (degrees) applied
// in X, then Y, then Z order.
func EulerXYZ(xDeg, yDeg, zDeg float64) [3][3]float64 {
	rx := rotX(xDeg * math.Pi / 180)
	ry := rotY(yDeg * math.Pi / 180)
	rz := rotZ(zDeg * math.Pi / 180)
	return mat3Mul(mat3Mul(rz, ry), rx)
}

func rotX(a float64) [3][3]float64 {
	c, s := math.Cos(a), math.Sin(a)
	return [3][3]float64{{1, 0, 0}, {0, c, -s}, {0, s, c}}
}

func rotY(a float64) [3][3]float64 {
	c, s := math.Cos(a), math.Sin(a)
	return [3][3]float64{{c, 0, s}, {0, 1, 0}, {-s, 0, c}}
}

func rotZ(a float64) [3][3]float64 {
	c, s := math.Cos(a), math.Sin(a)
	return [3][3]float64{{c, -s, 0}, {s, c, 0}, {0, 0, 1}}
}

// seedEulerAngles are the six seed Euler rotations composed with each
// PCA sign-flip variant, per spec §4.3.
var seedEulerAngles = [][3]float64{
	{0, 0, 0},
	{0, 0, 90},
	{0, 0, 180},
	{0, 0, 270},
	{0, 180, 0},
	{180, 0, 0},
}

// signFlipVariants are the four diag({±1}^3) matrices with det=+1 used
// to build PCA seeds, per spec §4.3.
var signFlipVariants = [][3]float64{
	{1, 1, 1},
	{1, -1, -1},
	{-1, 1, -1},
	{-1, -1, 1},
}

// PCASeeds builds the 24 PCA+Euler candidate rotations from spec §4.3:
// for each of 4 sign-flip variants F with det(F)=+1, R_pca = Vdst*F*Vsrc^T,
// composed with 6 seed Euler rotations. When the PCA frame is nearly
// degenerate (top-two eigenvalues within 5% of each other — ambiguous
// principal axes, common on near-spherical jaw scans), axis-permutation
// seeds are appended as well (original_source/app.py's
// build_coarse_init_candidates fallback, supplementing spec §4.3).
func PCASeeds(srcPts, dstPts []Vec3) ([][3][3]float64, error) {
	vSrc, eigSrc, err := PCAFrame(srcPts)
	if err != nil {
		return nil, err
	}
	vDst, _, err := PCAFrame(dstPts)
	if err != nil {
		return nil, err
	}

	var seeds [][3][3]float64
	vSrcT := mat3Transpose(vSrc)
	for _, sign := range signFlipVariants {
		f := [3][3]float64{{sign[0], 0, 0}, {0, sign[1], 0}, {0, 0, sign[2]}}
		rPCA := mat3Mul(mat3Mul(vDst, f), vSrcT)
		for _, euler := range seedEulerAngles {
			e := EulerXYZ(euler[0], euler[1], euler[2])
			seeds = append(seeds, mat3Mul(rPCA, e))
		}
	}

	if eigSrc[0] > 0 && (eigSrc[0]-eigSrc[1])/eigSrc[0] < 0.05 {
		perms := [][3]int{{0, 1, 2}, {1, 0, 2}, {0, 2, 1}, {2, 1, 0}}
		for _, perm := range perms {
			var p [3][3]float64
			for col, axis := range perm {
				p[axis][col] = 1
			}
			// A transposition has det -1; negating one column keeps
			// every seed a proper rotation.
			if det3(p) < 0 {
				for r := 0; r < 3; r++ {
					p[r][2] = -p[r][2]
				}
			}
			seeds = append(seeds, mat3Mul(vDst, mat3Mul(p, vSrcT)))
		}
	}
	return seeds, nil
}

// LocalPerturbationSeeds generates the 12 local perturbation variants
// plus identity around a base transform: small rotations (±8° about
// X/Y, ±12° about Z) and translations (±8mm along Z, ±5mm along X/Y),
// per spec §4.3.
func LocalPerturbationSeeds(base RigidTransform, centroid Vec3) []RigidTransform {
	out := []RigidTransform{base}
	rotDeltas := []struct {
		axis  int
		angle float64
	}{
		{0, 8}, {0, -8},
		{1, 8}, {1, -8},
		{2, 12}, {2, -12},
	}
	for _, rd := range rotDeltas {
		var delta [3][3]float64
		switch rd.axis {
		case 0:
			delta = rotX(rd.angle * math.Pi / 180)
		case 1:
			delta = rotY(rd.angle * math.Pi / 180)
		default:
			delta = rotZ(rd.angle * math.Pi / 180)
		}
		out = append(out, rotateAboutPoint(base, delta, centroid))
	}

	transDeltas := []Vec3{
		{Z: 8}, {Z: -8},
		{X: 5}, {X: -5},
		{Y: 5}, {Y: -5},
	}
	for _, td := range transDeltas {
		t := base
		t.T = t.T.Add(td)
		out = append(out, t)
	}
	return out
}

func rotateAboutPoint(base RigidTransform, delta [3][3]float64, center Vec3) RigidTransform {
	newR := mat3Mul(delta, base.R)
	rCenter := Vec3{
		X: newR[0][0]*center.X + newR[0][1]*center.Y + newR[0][2]*center.Z,
		Y: newR[1][0]*center.X + newR[1][1]*center.Y + newR[1][2]*center.Z,
		Z: newR[2][0]*center.X + newR[2][1]*center.Y + newR[2][2]*center.Z,
	}
	oldBaseCenter := base.Apply(center)
	newT := oldBaseCenter.Sub(rCenter)
	return RigidTransform{R: newR, T: newT}
}
