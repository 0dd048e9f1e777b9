package registration

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnumerateStrategiesFullOverlap(t *testing.T) {
	strategies := EnumerateStrategies(false)
	require.Len(t, strategies, 3, "full-overlap strategy count")
}

func TestEnumerateStrategiesPartialOverlap(t *testing.T) {
	strategies := EnumerateStrategies(true)
	require.GreaterOrEqual(t, len(strategies), 10, "partial-overlap strategy count")
	require.LessOrEqual(t, len(strategies), 16, "partial-overlap strategy count")
}

func TestPrealignTransformModes(t *testing.T) {
	src := AABB{Min: Vec3{X: -5, Y: -5, Z: -5}, Max: Vec3{X: 5, Y: 5, Z: 5}}
	dst := AABB{Min: Vec3{X: 10, Y: 10, Z: 0}, Max: Vec3{X: 20, Y: 20, Z: 10}}

	none := PrealignTransform(PrealignNone, src, dst, 0)
	require.Equal(t, Vec3{}, none.T, "PrealignNone should not translate")

	center := PrealignTransform(PrealignCenter, src, dst, 0)
	want := dst.Center().Sub(src.Center())
	require.True(t, vecAlmostEqual(center.T, want), "PrealignCenter T = %v, want %v", center.T, want)

	front := PrealignTransform(PrealignFront, src, dst, 2)
	require.True(t, almostEqual(front.T.Z, dst.Min.Z-src.Min.Z+2), "PrealignFront Z = %v", front.T.Z)
}

func TestAutoRegisterTranslatedCube(t *testing.T) {
	srcPts := gridPoints(6, 4)
	shift := Vec3{X: 4, Y: -3, Z: 2}
	dstPts := make([]Vec3, len(srcPts))
	for i, p := range srcPts {
		dstPts[i] = p.Add(shift)
	}
	src := fakeGeomSource{pts: srcPts}
	dst := fakeGeomSource{pts: dstPts}

	result := AutoRegister(src, dst, DefaultConfig(), ProfileDefault, DeviceStandard)
	require.LessOrEqual(t, result.Report.RMSE, 3.0, "AutoRegister should fit a clean translation closely")
	require.NotZero(t, result.AttemptCount, "expected at least one strategy to have been attempted")
}

func TestAutoRegisterDisjointCloudsFallsBackLowConfidence(t *testing.T) {
	src := fakeGeomSource{pts: gridPoints(3, 1)}
	dst := fakeGeomSource{pts: func() []Vec3 {
		pts := gridPoints(3, 1)
		for i := range pts {
			pts[i] = pts[i].Add(Vec3{X: 100000, Y: 100000, Z: 100000})
		}
		return pts
	}()}

	result := AutoRegister(src, dst, DefaultConfig(), ProfileDefault, DeviceStandard)
	require.False(t, result.Passed, "expected a registration between wildly disjoint clouds to fail the quality gate")
}
