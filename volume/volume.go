// Package volume converts a parsed BAM index into a per-contig sequence of
// fixed-width windows annotated with estimated data volume.  Volume is a
// relative, unitless quantity derived from virtual-offset deltas; it is
// meaningful only when comparing regions of the same run.
package volume

import (
	"context"
	"sort"

	"github.com/grailbio/base/traverse"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/indextools/contigprovider"
	"github.com/grailbio/indextools/encoding/bai"
	"gonum.org/v1/gonum/stat"
)

// WindowBP is the width in base pairs of one volume window.  It equals the
// BAI linear-index tile width, the fundamental resolution of the signal.
const WindowBP = bai.TileWidth

// Window is a [Start, End) genomic interval with an estimated volume.
// End - Start == WindowBP except for the terminal window of a contig.
type Window struct {
	Start  int
	End    int
	Volume int64
}

// RefVolumes is the window sequence of one reference, in ascending Start
// order.  A reference with no coverage has Windows == nil but still carries
// its contig name and length.
type RefVolumes struct {
	RefID   int
	Name    string
	Length  int
	Windows []Window
	// LeadingEmptyTiles counts zero linear-index entries at the start of the
	// reference.  These are typically telomeric or centromeric.
	LeadingEmptyTiles int
}

// Total returns the summed volume of the reference's windows.
func (r *RefVolumes) Total() int64 {
	var total int64
	for _, w := range r.Windows {
		total += w.Volume
	}
	return total
}

// Estimate computes the window sequence for one reference.  When length is
// positive and the reference names at least two distinct offsets, the
// returned windows cover [0, length) exactly and tiles with no contributing
// index segments have volume zero; otherwise Windows is nil.
func Estimate(ref *bai.Reference, refID int, name string, length int) RefVolumes {
	rv := RefVolumes{RefID: refID, Name: name, Length: length}
	for _, iv := range ref.Intervals {
		if (iv != bgzf.Offset{}) {
			break
		}
		rv.LeadingEmptyTiles++
	}
	if length <= 0 {
		return rv
	}

	offsets := ref.Offsets()
	if len(offsets) < 2 {
		// No segments: the contig is announced but yields no windows.
		return rv
	}

	nWin := (length + WindowBP - 1) / WindowBP
	vols := make([]int64, nWin)
	intervals := ref.Intervals

	// startTile maps a segment start to the tile it accrues to: one before
	// the first linear-index entry past v, tile 0 when v precedes every
	// entry, the last entry's tile when v is past them all.
	startTile := func(v bgzf.Offset) int {
		vo := bai.VOffset(v)
		t := sort.Search(len(intervals), func(t int) bool {
			return bai.VOffset(intervals[t]) > vo
		})
		return clampTile(t-1, nWin)
	}
	// endTile maps a segment end to the last tile the segment touches.
	endTile := func(v bgzf.Offset) int {
		vo := bai.VOffset(v)
		t := sort.Search(len(intervals), func(t int) bool {
			return bai.VOffset(intervals[t]) >= vo
		})
		return clampTile(t-1, nWin)
	}

	for i := 0; i+1 < len(offsets); i++ {
		segVol := bai.VOffset(offsets[i+1]) - bai.VOffset(offsets[i])
		if segVol <= 0 {
			continue
		}
		s := startTile(offsets[i])
		e := endTile(offsets[i+1])
		if e < s {
			e = s
		}
		if s == e {
			vols[s] += segVol
			continue
		}
		// A chunk bridging tile boundaries: split the segment evenly across
		// the tiles it covers, remainder to the first.
		nTiles := int64(e - s + 1)
		share := segVol / nTiles
		vols[s] += segVol - share*(nTiles-1)
		for t := s + 1; t <= e; t++ {
			vols[t] += share
		}
	}

	rv.Windows = make([]Window, nWin)
	for t := 0; t < nWin; t++ {
		end := (t + 1) * WindowBP
		if end > length {
			end = length
		}
		rv.Windows[t] = Window{Start: t * WindowBP, End: end, Volume: vols[t]}
	}
	return rv
}

func clampTile(t, nWin int) int {
	if t < 0 {
		return 0
	}
	if t >= nWin {
		return nWin - 1
	}
	return t
}

// EstimateAll computes window sequences for every reference in idx, one per
// contig, in BAI reference order.  References are processed concurrently but
// the result slice is index-addressed, so output order is deterministic.
// contigs must be position-matched with idx.Refs; the driver validates this.
func EstimateAll(ctx context.Context, idx *bai.Index, contigs []contigprovider.Contig) ([]RefVolumes, error) {
	refVols := make([]RefVolumes, len(idx.Refs))
	err := traverse.Each(len(idx.Refs), func(refID int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		refVols[refID] = Estimate(&idx.Refs[refID], refID, contigs[refID].Name, contigs[refID].Length)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refVols, nil
}

// Summary holds run-level window-volume statistics for logging.
type Summary struct {
	Total        int64
	NonZero      int
	Mean         float64
	Median       float64
	PatchedZeros int
	LeadingTiles int
	WindowCount  int
}

// Summarize computes volume statistics across all references.  Mean and
// Median are over nonzero window volumes only.
func Summarize(idx *bai.Index, refVols []RefVolumes) Summary {
	var s Summary
	nonZero := make([]float64, 0, 1024)
	for i := range refVols {
		rv := &refVols[i]
		s.WindowCount += len(rv.Windows)
		s.LeadingTiles += rv.LeadingEmptyTiles
		for _, w := range rv.Windows {
			s.Total += w.Volume
			if w.Volume > 0 {
				nonZero = append(nonZero, float64(w.Volume))
			}
		}
	}
	for i := range idx.Refs {
		s.PatchedZeros += idx.Refs[i].PatchedZeros
	}
	s.NonZero = len(nonZero)
	if len(nonZero) > 0 {
		sort.Float64s(nonZero)
		s.Mean, _ = stat.MeanStdDev(nonZero, nil)
		s.Median = stat.Quantile(0.5, stat.Empirical, nonZero, nil)
	}
	return s
}
