package partition

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wins builds a contiguous window sequence with the given volumes, one window
// per 16kb tile, the last truncated to length.
func wins(length int, volumes ...int64) []Win {
	out := make([]Win, len(volumes))
	for i, v := range volumes {
		end := (i + 1) * windowBP
		if end > length {
			end = length
		}
		out[i] = Win{Start: i * windowBP, End: end, Volume: v, OpenTarget: -1}
	}
	return out
}

func checkInvariants(t *testing.T, parts []Partition, contigs []ContigWindows) {
	// Contiguity within a contig, no contig crossing, reference order.
	for i := 1; i < len(parts); i++ {
		prev, cur := &parts[i-1], &parts[i]
		assert.True(t, prev.RefID <= cur.RefID)
		if prev.RefID == cur.RefID {
			assert.Equal(t, prev.End, cur.Start)
		}
	}
	for _, p := range parts {
		assert.True(t, p.End > p.Start)
	}
}

func volumes(parts []Partition) []int64 {
	vs := make([]int64, len(parts))
	for i := range parts {
		vs[i] = parts[i].Volume
	}
	return vs
}

func TestPlanUniform(t *testing.T) {
	// A single 100kb contig with 1000 V per tile, split four ways: the
	// boundaries land on the window edges nearest the volume quartiles.
	contigs := []ContigWindows{
		{RefID: 0, Name: "chr1", Length: 100000, Wins: wins(100000, 1000, 1000, 1000, 1000, 1000, 1000, 1000)},
	}
	result, err := Plan(contigs, 4)
	require.Nil(t, err)
	require.Equal(t, 4, len(result.Partitions))
	assert.False(t, result.Degenerate)

	parts := result.Partitions
	assert.Equal(t, 0, parts[0].Start)
	assert.Equal(t, 2*windowBP, parts[0].End)
	assert.Equal(t, 3*windowBP, parts[1].End)
	assert.Equal(t, 5*windowBP, parts[2].End)
	assert.Equal(t, 100000, parts[3].End)
	assert.Equal(t, []int64{2000, 1000, 2000, 2000}, volumes(parts))
	assert.Equal(t, []string{"p1", "p2", "p3", "p4"}, []string{parts[0].Name, parts[1].Name, parts[2].Name, parts[3].Name})
	checkInvariants(t, parts, contigs)

	// Volume conservation.
	var total int64
	for _, v := range volumes(parts) {
		total += v
	}
	assert.Equal(t, int64(7000), total)
}

func TestPlanMultiContig(t *testing.T) {
	// chr2 has no coverage at all: it cannot attach to a chr1 partition, so
	// it is emitted whole with zero volume.
	contigs := []ContigWindows{
		{RefID: 0, Name: "chr1", Length: 50000, Wins: wins(50000, 2000, 2000, 2000, 2000)},
		{RefID: 1, Name: "chr2", Length: 50000},
	}
	result, err := Plan(contigs, 2)
	require.Nil(t, err)
	parts := result.Partitions
	require.Equal(t, 2, len(parts))
	assert.Equal(t, "chr1", parts[0].Contig)
	assert.Equal(t, 0, parts[0].Start)
	assert.Equal(t, 50000, parts[0].End)
	assert.Equal(t, int64(8000), parts[0].Volume)
	assert.Equal(t, "chr2", parts[1].Contig)
	assert.Equal(t, 50000, parts[1].End)
	assert.Equal(t, int64(0), parts[1].Volume)
}

func TestPlanSingleDropsEmptyContig(t *testing.T) {
	// With n=1, the uncovered contig cannot merge into the chr1 partition
	// across the contig boundary, so it is dropped.
	contigs := []ContigWindows{
		{RefID: 0, Name: "chr1", Length: 2 * windowBP, Wins: wins(2*windowBP, 500, 500)},
		{RefID: 1, Name: "chr2", Length: 50000},
	}
	result, err := Plan(contigs, 1)
	require.Nil(t, err)
	require.Equal(t, 1, len(result.Partitions))
	assert.Equal(t, "chr1", result.Partitions[0].Contig)
	assert.Equal(t, int64(1000), result.Partitions[0].Volume)
}

func TestPlanInfeasible(t *testing.T) {
	contigs := []ContigWindows{
		{RefID: 0, Name: "chr1", Length: 4 * windowBP, Wins: wins(4*windowBP, 100, 0, 200, 0)},
	}
	_, err := Plan(contigs, 10)
	require.NotNil(t, err)
	ierr, ok := err.(*InfeasibleError)
	require.True(t, ok)
	assert.Equal(t, 2, ierr.Achievable)
	assert.Contains(t, ierr.Error(), "achievable: 2")
}

func TestPlanDegenerate(t *testing.T) {
	// No signal anywhere: fall back to equal-width partitioning by length,
	// synthesizing windows for the uncovered contig.
	contigs := []ContigWindows{
		{RefID: 0, Name: "chr1", Length: 4 * windowBP, Wins: wins(4*windowBP, 0, 0, 0, 0)},
		{RefID: 1, Name: "chr2", Length: 4 * windowBP},
	}
	result, err := Plan(contigs, 4)
	require.Nil(t, err)
	assert.True(t, result.Degenerate)
	parts := result.Partitions
	require.Equal(t, 4, len(parts))
	for _, p := range parts {
		assert.Equal(t, int64(2*windowBP), p.Volume)
		assert.Equal(t, p.Start+2*windowBP, p.End)
	}
	assert.Equal(t, "chr1", parts[0].Contig)
	assert.Equal(t, "chr2", parts[2].Contig)
}

func TestPlanRebalanceSplit(t *testing.T) {
	// The contig-boundary rule leaves two partitions; the third comes from
	// splitting the splittable one (the single-window partition cannot be
	// split).
	contigs := []ContigWindows{
		{RefID: 0, Name: "chrA", Length: 4 * windowBP, Wins: wins(4*windowBP, 1, 1, 1, 1)},
		{RefID: 1, Name: "chrB", Length: windowBP, Wins: wins(windowBP, 100)},
	}
	result, err := Plan(contigs, 3)
	require.Nil(t, err)
	parts := result.Partitions
	require.Equal(t, 3, len(parts))
	assert.Equal(t, []int64{2, 2, 100}, volumes(parts))
	assert.Equal(t, 2*windowBP, parts[0].End)
	assert.Equal(t, 2*windowBP, parts[1].Start)
	checkInvariants(t, parts, contigs)
}

func TestPlanTargetDeferral(t *testing.T) {
	// A target spanning the natural close point defers the boundary until
	// the target ends.
	windows := wins(4*windowBP, 10, 10, 10, 10)
	windows[1].OpenTarget = 5 // target continues into window 2
	contigs := []ContigWindows{
		{RefID: 0, Name: "chr1", Length: 4 * windowBP, Wins: windows},
	}
	result, err := Plan(contigs, 2)
	require.Nil(t, err)
	parts := result.Partitions
	require.Equal(t, 2, len(parts))
	assert.Equal(t, 3*windowBP, parts[0].End)
	assert.Equal(t, []int64{30, 10}, volumes(parts))
}

func TestPlanNameWidth(t *testing.T) {
	contigs := []ContigWindows{
		{RefID: 0, Name: "chr1", Length: 12 * windowBP, Wins: wins(12*windowBP, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1)},
	}
	result, err := Plan(contigs, 10)
	require.Nil(t, err)
	require.Equal(t, 10, len(result.Partitions))
	assert.Equal(t, "p01", result.Partitions[0].Name)
	assert.Equal(t, "p10", result.Partitions[9].Name)
}

func TestPlanBadCount(t *testing.T) {
	_, err := Plan(nil, 0)
	assert.NotNil(t, err)
}

func TestWriteBED(t *testing.T) {
	parts := []Partition{
		{Name: "p1", Contig: "chr1", Start: 0, End: 32768, Volume: 4000, FeatureCount: 1},
		{Name: "p2", Contig: "chr1", Start: 32768, End: 50000, Volume: 0, FeatureCount: 0},
	}
	var buf bytes.Buffer
	require.Nil(t, WriteBED(&buf, parts, false))
	assert.Equal(t, "chr1\t0\t32768\tp1\t4000\t.\nchr1\t32768\t50000\tp2\t0\t.\n", buf.String())

	buf.Reset()
	require.Nil(t, WriteBED(&buf, parts, true))
	assert.Equal(t, "chr1\t0\t32768\tp1\t4000\t.\t1\nchr1\t32768\t50000\tp2\t0\t.\t0\n", buf.String())
}
