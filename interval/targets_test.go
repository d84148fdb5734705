package interval

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRefIDs = map[string]int{"chr1": 0, "chr2": 1}

func TestNewTargetSetMerge(t *testing.T) {
	bed := strings.Join([]string{
		"chr2\t100\t200",
		"",
		"chr1\t500\t1000",
		"chr1\t900\t1200",  // overlaps the previous row
		"chr1\t1200\t1300", // touches: merges too
		"chr1\t2000\t2000", // empty: dropped
		"chr1\t5000\t6000",
		"chrX\t0\t100", // unknown contig: skipped with a warning
	}, "\n") + "\n"

	s, err := NewTargetSet(strings.NewReader(bed), testRefIDs, 2)
	require.Nil(t, err)
	assert.Equal(t, 3, s.NTargets())
	assert.False(t, s.Empty())
	assert.Equal(t, []string{"chrX"}, s.SkippedContigs())

	chr1 := s.ByRef(0)
	require.Equal(t, 2, len(chr1))
	assert.Equal(t, Target{RefID: 0, Start: 500, End: 1300, ID: 0}, chr1[0])
	assert.Equal(t, Target{RefID: 0, Start: 5000, End: 6000, ID: 1}, chr1[1])

	chr2 := s.ByRef(1)
	require.Equal(t, 1, len(chr2))
	assert.Equal(t, Target{RefID: 1, Start: 100, End: 200, ID: 2}, chr2[0])
}

func TestMergeIdempotent(t *testing.T) {
	bed := "chr1\t10\t30\nchr1\t20\t50\nchr2\t5\t8\n"
	s, err := NewTargetSet(strings.NewReader(bed), testRefIDs, 2)
	require.Nil(t, err)

	// Re-encode the merged set and load it again: the result must be
	// identical.
	var buf bytes.Buffer
	names := []string{"chr1", "chr2"}
	for refID := 0; refID < 2; refID++ {
		for _, target := range s.ByRef(refID) {
			fmt.Fprintf(&buf, "%s\t%d\t%d\n", names[refID], target.Start, target.End)
		}
	}
	s2, err := NewTargetSet(&buf, testRefIDs, 2)
	require.Nil(t, err)
	require.Equal(t, s.NTargets(), s2.NTargets())
	for refID := 0; refID < 2; refID++ {
		assert.Equal(t, s.ByRef(refID), s2.ByRef(refID))
	}
}

func TestNewTargetSetErrors(t *testing.T) {
	for _, bed := range []string{
		"chr1\t100\n",           // too few columns
		"chr1\t-5\t100\n",       // negative start
		"chr1\t100\t50\n",       // end < start
		"chr1\tx\t50\n",         // unparsable
		"chr1\t0\t2147483647\n", // end >= PosTypeMax
	} {
		_, err := NewTargetSet(strings.NewReader(bed), testRefIDs, 2)
		assert.NotNil(t, err, "bed=%q", bed)
	}
}

func TestEmptyTargetSet(t *testing.T) {
	s, err := NewTargetSet(strings.NewReader(""), testRefIDs, 2)
	require.Nil(t, err)
	assert.True(t, s.Empty())
	var nilSet *TargetSet
	assert.True(t, nilSet.Empty())
}

func TestMaskWindow(t *testing.T) {
	bed := "chr1\t10000\t30000\n"
	s, err := NewTargetSet(strings.NewReader(bed), testRefIDs, 2)
	require.Nil(t, err)

	// Partial overlap: [10000, 16384) of [0, 16384).
	masked, hits, open := s.MaskWindow(0, 0, 16384, 1000)
	require.Equal(t, 1, len(hits))
	assert.Equal(t, int64(1000*6384/16384), masked)
	assert.Equal(t, 0, hits[0].TargetID)
	assert.InDelta(t, 6384.0/16384.0, hits[0].Fraction, 1e-9)
	assert.Equal(t, 0, open) // the target continues past the window

	// The target covers [16384, 30000) of [16384, 32768) and ends inside it.
	masked, hits, open = s.MaskWindow(0, 16384, 32768, 1000)
	require.Equal(t, 1, len(hits))
	assert.Equal(t, int64(831), masked) // 1000*13616/16384
	assert.Equal(t, -1, open)           // target ends within this window

	// No overlap: volume suppressed, nothing reported.
	masked, hits, open = s.MaskWindow(0, 32768, 49152, 1000)
	assert.Equal(t, int64(0), masked)
	assert.Equal(t, 0, len(hits))
	assert.Equal(t, -1, open)

	// Other contig.
	masked, _, _ = s.MaskWindow(1, 0, 16384, 1000)
	assert.Equal(t, int64(0), masked)
}

func TestMaskWindowMultiTarget(t *testing.T) {
	bed := "chr1\t0\t4096\nchr1\t8192\t12288\n"
	s, err := NewTargetSet(strings.NewReader(bed), testRefIDs, 2)
	require.Nil(t, err)

	masked, hits, open := s.MaskWindow(0, 0, 16384, 1600)
	require.Equal(t, 2, len(hits))
	assert.Equal(t, 0, hits[0].TargetID)
	assert.Equal(t, 1, hits[1].TargetID)
	assert.Equal(t, int64(400), hits[0].Volume)
	assert.Equal(t, int64(400), hits[1].Volume)
	assert.Equal(t, int64(800), masked)
	assert.Equal(t, -1, open)
}

func TestOverlapping(t *testing.T) {
	bed := "chr1\t100\t200\nchr1\t300\t400\nchr2\t0\t50\n"
	s, err := NewTargetSet(strings.NewReader(bed), testRefIDs, 2)
	require.Nil(t, err)

	got := s.Overlapping(0, 0, 1000)
	require.Equal(t, 2, len(got))
	assert.Equal(t, 0, got[0].ID)
	assert.Equal(t, 1, got[1].ID)

	assert.Equal(t, 0, len(s.Overlapping(0, 200, 300)))
	assert.Equal(t, 1, len(s.Overlapping(1, 0, 10)))
	assert.Equal(t, 0, len(s.Overlapping(5, 0, 10)))
}

func TestNewTargetSetFromPathGzip(t *testing.T) {
	dir, err := ioutil.TempDir("", "targets")
	require.Nil(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "targets.bed.gz")
	f, err := os.Create(path)
	require.Nil(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte("chr1\t100\t200\nchr2\t10\t20\n"))
	require.Nil(t, err)
	require.Nil(t, gz.Close())
	require.Nil(t, f.Close())

	s, err := NewTargetSetFromPath(path, testRefIDs, 2)
	require.Nil(t, err)
	assert.Equal(t, 2, s.NTargets())
}
