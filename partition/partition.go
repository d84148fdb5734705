// Package partition packs a genome-wide window-volume signal into a requested
// number of contiguous, approximately equal-volume genomic intervals, and
// writes them as BED records.
package partition

import (
	"fmt"
)

// Win is one fixed-width window with its (possibly target-masked) volume.
type Win struct {
	Start  int
	End    int
	Volume int64
	// OpenTarget is the ID of a target that overlaps the window and continues
	// past its end, -1 when none.  A partition never closes while a target is
	// open.
	OpenTarget int
}

// ContigWindows is the ordered window sequence of one contig.  Wins is nil
// for a contig with no coverage; Length still bounds the contig.
type ContigWindows struct {
	RefID  int
	Name   string
	Length int
	Wins   []Win
}

// Partition is one contiguous output interval within a single contig.
type Partition struct {
	Name         string
	RefID        int
	Contig       string
	Start        int
	End          int
	Volume       int64
	FeatureCount int

	wins []Win
}

// InfeasibleError reports that the requested partition count cannot be
// satisfied by the available signal.
type InfeasibleError struct {
	Requested  int
	Achievable int
}

func (e *InfeasibleError) Error() string {
	return fmt.Sprintf("cannot produce %d partitions; achievable: %d", e.Requested, e.Achievable)
}

// Result is the output of Plan.
type Result struct {
	Partitions []Partition
	// Degenerate is set when the total volume was zero and partitioning fell
	// back to base-pair widths.
	Degenerate bool
}

// Plan partitions the window sequences of contigs into n approximately
// equal-volume partitions.  Contigs must be in reference order and each
// window sequence in ascending start order.
//
// The sweep accumulates windows into the current partition and closes it when
// the cumulative volume crosses the next threshold total*(k+1)/n, at
// whichever window boundary lands nearer the threshold (ties close at the
// earlier boundary).  Partitions never cross a contig boundary and never
// split a target.  A sweep that produces the wrong partition count is
// rebalanced: the largest splittable partition is split at the internal
// window boundary nearest half its volume, or the adjacent same-contig pair
// with the smallest combined volume is merged (zero-volume partitions are
// dropped when no merge is possible), until exactly n remain.  When neither
// step can reach n, Plan returns an *InfeasibleError.
func Plan(contigs []ContigWindows, n int) (Result, error) {
	if n < 1 {
		return Result{}, fmt.Errorf("partition count %d must be >= 1", n)
	}

	var total int64
	nonEmpty := 0
	for _, c := range contigs {
		for _, w := range c.Wins {
			total += w.Volume
			if w.Volume > 0 {
				nonEmpty++
			}
		}
	}

	result := Result{}
	if total == 0 {
		// No signal at all: fall back to partitioning by base-pair width so
		// the run still yields usable pieces.
		contigs = lengthFallback(contigs)
		result.Degenerate = true
		total = 0
		for _, c := range contigs {
			for _, w := range c.Wins {
				total += w.Volume
			}
		}
		if total == 0 {
			return Result{}, &InfeasibleError{Requested: n, Achievable: 0}
		}
	} else if nonEmpty < n {
		return Result{}, &InfeasibleError{Requested: n, Achievable: nonEmpty}
	}

	parts := sweep(contigs, n, total)
	parts, err := rebalance(parts, n)
	if err != nil {
		return Result{}, err
	}

	width := len(fmt.Sprintf("%d", n))
	for i := range parts {
		parts[i].Name = fmt.Sprintf("p%0*d", width, i+1)
		parts[i].wins = nil
	}
	result.Partitions = parts
	return result, nil
}

// lengthFallback rewrites every window's volume as its base-pair width,
// synthesizing windows for contigs that had none.
func lengthFallback(contigs []ContigWindows) []ContigWindows {
	out := make([]ContigWindows, len(contigs))
	for i, c := range contigs {
		oc := ContigWindows{RefID: c.RefID, Name: c.Name, Length: c.Length}
		if len(c.Wins) == 0 {
			for start := 0; start < c.Length; start += windowBP {
				end := start + windowBP
				if end > c.Length {
					end = c.Length
				}
				oc.Wins = append(oc.Wins, Win{Start: start, End: end, Volume: int64(end - start), OpenTarget: -1})
			}
		} else {
			oc.Wins = make([]Win, len(c.Wins))
			for j, w := range c.Wins {
				oc.Wins[j] = Win{Start: w.Start, End: w.End, Volume: int64(w.End - w.Start), OpenTarget: w.OpenTarget}
			}
		}
		out[i] = oc
	}
	return out
}

// windowBP mirrors the estimator's window width; the fallback synthesizes
// windows at the same resolution.
const windowBP = 16384

func sweep(contigs []ContigWindows, n int, total int64) []Partition {
	var parts []Partition
	var cum int64 // volume of all closed partitions plus the open one
	k := 0        // threshold index; advances only past volume-bearing closes

	for _, c := range contigs {
		if len(c.Wins) == 0 {
			if c.Length > 0 {
				// An uncovered contig cannot attach to a partition on another
				// contig; it is emitted whole with zero volume and the
				// rebalancer decides its fate.
				parts = append(parts, Partition{
					RefID:  c.RefID,
					Contig: c.Name,
					Start:  0,
					End:    c.Length,
				})
			}
			continue
		}
		var acc int64
		var open []Win
		for wi, w := range c.Wins {
			if len(open) > 0 {
				threshold := int64(k+1) * total
				over := int64(n)*(cum+w.Volume) - threshold
				if over > 0 {
					under := threshold - int64(n)*cum
					deferred := c.Wins[wi-1].OpenTarget >= 0
					if over >= under && !deferred {
						parts = append(parts, closePart(&c, open, acc))
						if acc > 0 {
							k = advance(k, n, cum, total)
						}
						acc = 0
						open = open[len(open):]
					}
				}
			}
			open = append(open, w)
			acc += w.Volume
			cum += w.Volume
		}
		if len(open) > 0 {
			parts = append(parts, closePart(&c, open, acc))
			if acc > 0 {
				k = advance(k, n, cum, total)
			}
		}
	}
	return parts
}

// advance moves the threshold index past the next boundary and past any
// further boundaries the cumulative volume has already overrun (a deferred
// close can cross more than one).
func advance(k, n int, cum, total int64) int {
	k++
	for int64(k+1)*total <= int64(n)*cum {
		k++
	}
	return k
}

func closePart(c *ContigWindows, wins []Win, acc int64) Partition {
	p := Partition{
		RefID:  c.RefID,
		Contig: c.Name,
		Start:  wins[0].Start,
		End:    wins[len(wins)-1].End,
		Volume: acc,
		wins:   make([]Win, len(wins)),
	}
	copy(p.wins, wins)
	// The terminal partition of a contig runs to the contig's full length so
	// short linear indexes do not leave a gap.
	if wins[len(wins)-1].End == c.Wins[len(c.Wins)-1].End && c.Length > p.End {
		p.End = c.Length
	}
	return p
}

func rebalance(parts []Partition, n int) ([]Partition, error) {
	for len(parts) > n {
		// Merge the adjacent same-contig pair with the smallest combined
		// volume; ties merge the earliest pair.
		best := -1
		var bestVol int64
		for i := 0; i+1 < len(parts); i++ {
			if parts[i].RefID != parts[i+1].RefID {
				continue
			}
			v := parts[i].Volume + parts[i+1].Volume
			if best == -1 || v < bestVol {
				best, bestVol = i, v
			}
		}
		if best >= 0 {
			parts = mergeAt(parts, best)
			continue
		}
		// No merge is possible: drop a zero-volume partition (an uncovered
		// contig) if one exists, latest first.
		dropped := false
		for i := len(parts) - 1; i >= 0; i-- {
			if parts[i].Volume == 0 {
				parts = append(parts[:i], parts[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped {
			return nil, &InfeasibleError{Requested: n, Achievable: len(parts)}
		}
	}

	for len(parts) < n {
		// Split the largest splittable partition at the internal window
		// boundary nearest half its volume; ties split the earliest.
		best, bestAt := -1, -1
		var bestVol int64
		for i := range parts {
			at := splitPoint(&parts[i])
			if at < 0 {
				continue
			}
			if best == -1 || parts[i].Volume > bestVol {
				best, bestAt, bestVol = i, at, parts[i].Volume
			}
		}
		if best == -1 {
			return nil, &InfeasibleError{Requested: n, Achievable: len(parts)}
		}
		parts = splitAt(parts, best, bestAt)
	}
	return parts, nil
}

func mergeAt(parts []Partition, i int) []Partition {
	parts[i].End = parts[i+1].End
	parts[i].Volume += parts[i+1].Volume
	parts[i].wins = append(parts[i].wins, parts[i+1].wins...)
	return append(parts[:i+1], parts[i+2:]...)
}

// splitPoint returns the window index at which to split the partition (the
// second half starts there), or -1 if no internal boundary leaves nonzero
// volume on both sides.
func splitPoint(p *Partition) int {
	if len(p.wins) < 2 {
		return -1
	}
	half := p.Volume // compare 2*left against Volume to stay integral
	bestAt := -1
	var bestDist int64 = -1
	var left int64
	for i := 0; i+1 < len(p.wins); i++ {
		left += p.wins[i].Volume
		if left == 0 || left == p.Volume {
			continue
		}
		if p.wins[i].OpenTarget >= 0 {
			continue
		}
		dist := 2*left - half
		if dist < 0 {
			dist = -dist
		}
		if bestAt == -1 || dist < bestDist {
			bestAt, bestDist = i+1, dist
		}
	}
	return bestAt
}

func splitAt(parts []Partition, i, at int) []Partition {
	p := parts[i]
	var leftVol int64
	for _, w := range p.wins[:at] {
		leftVol += w.Volume
	}
	left := Partition{
		RefID:  p.RefID,
		Contig: p.Contig,
		Start:  p.Start,
		End:    p.wins[at].Start,
		Volume: leftVol,
		wins:   p.wins[:at:at],
	}
	right := Partition{
		RefID:  p.RefID,
		Contig: p.Contig,
		Start:  p.wins[at].Start,
		End:    p.End,
		Volume: p.Volume - leftVol,
		wins:   p.wins[at:],
	}
	out := make([]Partition, 0, len(parts)+1)
	out = append(out, parts[:i]...)
	out = append(out, left, right)
	out = append(out, parts[i+1:]...)
	return out
}
