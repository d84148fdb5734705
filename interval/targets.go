package interval

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	store "github.com/biogo/store/interval"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/grailbio/base/vcontext"
	"github.com/klauspost/compress/gzip"
)

// PosType is this package's coordinate type.
type PosType int32

// PosTypeMax is the maximum value representable by a PosType.
const PosTypeMax = math.MaxInt32

// getTokens identifies up to the first len(tokens) tokens from curLine,
// returning the number of tokens saved.  Any (group of) characters <= ' ' is
// treated as a delimiter.
func getTokens(tokens [][]byte, curLine []byte) int {
	posEnd := 0
	lineLen := len(curLine)
	for tokenIdx := range tokens {
		pos := posEnd
		for ; pos != lineLen; pos++ {
			if curLine[pos] > ' ' {
				break
			}
		}
		if pos == lineLen {
			return tokenIdx
		}
		posEnd = pos
		for ; posEnd != lineLen; posEnd++ {
			if curLine[posEnd] <= ' ' {
				break
			}
		}
		tokens[tokenIdx] = curLine[pos:posEnd]
	}
	return len(tokens)
}

// Target is one merged target region on a single contig.  ID is the target's
// position in (reference order, start) order across the whole set.
type Target struct {
	RefID int
	Start PosType
	End   PosType
	ID    int
}

// TargetSet is the merged, sorted union of a target BED, organized by BAI
// reference ID.  Merging an already-merged set reproduces it exactly.
type TargetSet struct {
	byRef   [][]Target
	trees   []*store.IntTree
	n       int
	skipped []string
}

// treeTarget adapts a Target to the biogo interval-tree interface.
type treeTarget struct {
	start, end int
	id         uintptr
}

func (t treeTarget) Overlap(b store.IntRange) bool {
	return t.end > b.Start && t.start < b.End
}

func (t treeTarget) ID() uintptr { return t.id }

func (t treeTarget) Range() store.IntRange {
	return store.IntRange{Start: t.start, End: t.end}
}

// NTargets returns the number of merged targets in the set.
func (s *TargetSet) NTargets() int { return s.n }

// Empty reports whether the set has no targets; an empty set behaves as "no
// targets supplied".
func (s *TargetSet) Empty() bool { return s == nil || s.n == 0 }

// SkippedContigs lists BED contig names absent from the reference list, in
// first-seen order.
func (s *TargetSet) SkippedContigs() []string { return s.skipped }

// ByRef returns the merged targets of one reference in ascending start order.
func (s *TargetSet) ByRef(refID int) []Target {
	if refID < 0 || refID >= len(s.byRef) {
		return nil
	}
	return s.byRef[refID]
}

// Hit describes the part of a window covered by one target.
type Hit struct {
	TargetID int
	// Fraction is the fraction of the window's bases inside the target.
	Fraction float64
	// Volume is the window volume attributed to the target.
	Volume int64
}

// MaskWindow intersects the window [start, end) on refID with the target set.
// It returns the window's in-target volume (zero when nothing overlaps), the
// per-target attribution, and the ID of a target that continues past the
// window's end (-1 if none; the partitioner uses this to avoid splitting a
// target).  Volume is apportioned by overlapping base count, rounding down
// per target.
func (s *TargetSet) MaskWindow(refID, start, end int, vol int64) (masked int64, hits []Hit, openTarget int) {
	openTarget = -1
	if refID < 0 || refID >= len(s.trees) || s.trees[refID] == nil {
		return 0, nil, -1
	}
	got := s.trees[refID].Get(treeTarget{start: start, end: end})
	if len(got) == 0 {
		return 0, nil, -1
	}
	targets := s.byRef[refID]
	width := int64(end - start)
	hits = make([]Hit, 0, len(got))
	for _, g := range got {
		target := targets[int(g.ID())]
		ovlStart, ovlEnd := int(target.Start), int(target.End)
		if ovlStart < start {
			ovlStart = start
		}
		if ovlEnd > end {
			ovlEnd = end
		}
		ovl := int64(ovlEnd - ovlStart)
		if ovl <= 0 {
			continue
		}
		if int(target.End) > end && target.ID > openTarget {
			openTarget = target.ID
		}
		h := Hit{
			TargetID: target.ID,
			Fraction: float64(ovl) / float64(width),
			Volume:   vol * ovl / width,
		}
		masked += h.Volume
		hits = append(hits, h)
	}
	// The tree returns targets in insertion order; report hits by ID so the
	// output is stable.
	sort.Slice(hits, func(i, j int) bool { return hits[i].TargetID < hits[j].TargetID })
	return masked, hits, openTarget
}

// Overlapping returns the merged targets intersecting [start, end) on refID,
// in ascending ID order.
func (s *TargetSet) Overlapping(refID, start, end int) []Target {
	if refID < 0 || refID >= len(s.trees) || s.trees[refID] == nil {
		return nil
	}
	got := s.trees[refID].Get(treeTarget{start: start, end: end})
	if len(got) == 0 {
		return nil
	}
	targets := make([]Target, 0, len(got))
	for _, g := range got {
		targets = append(targets, s.byRef[refID][int(g.ID())])
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].ID < targets[j].ID })
	return targets
}

type bedEntry struct {
	refID int
	start PosType
	end   PosType
}

// NewTargetSet loads a target BED (>= 3 columns, 0-based half-open) from
// reader, keeping only contigs present in refIDs (name -> BAI reference ID).
// Rows may appear in any order; they are sorted into reference order and
// overlapping or touching rows are merged.  nRefs is the number of BAI
// reference slots.
func NewTargetSet(reader io.Reader, refIDs map[string]int, nRefs int) (*TargetSet, error) {
	scanner := bufio.NewScanner(reader)
	var tokens [3][]byte
	var entries []bedEntry
	var skipped []string
	skippedSeen := make(map[string]bool)

	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		curLine := scanner.Bytes()
		nToken := getTokens(tokens[:], curLine)
		if nToken == 0 {
			continue
		}
		if nToken != 3 {
			return nil, fmt.Errorf("interval.NewTargetSet: line %d has fewer tokens than expected", lineIdx)
		}
		refID, known := refIDs[gunsafe.BytesToString(tokens[0])]
		if !known {
			name := string(tokens[0])
			if !skippedSeen[name] {
				skippedSeen[name] = true
				skipped = append(skipped, name)
			}
			continue
		}
		parsedStart, err := strconv.Atoi(gunsafe.BytesToString(tokens[1]))
		if err != nil {
			return nil, err
		}
		if parsedStart < 0 {
			return nil, fmt.Errorf("interval.NewTargetSet: negative start coordinate %s on line %d", tokens[1], lineIdx)
		}
		parsedEnd, err := strconv.Atoi(gunsafe.BytesToString(tokens[2]))
		if err != nil {
			return nil, err
		}
		if parsedEnd < parsedStart || parsedEnd >= PosTypeMax {
			return nil, fmt.Errorf("interval.NewTargetSet: invalid coordinate pair on line %d", lineIdx)
		}
		if parsedEnd == parsedStart {
			continue
		}
		entries = append(entries, bedEntry{refID: refID, start: PosType(parsedStart), end: PosType(parsedEnd)})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return newTargetSetFromEntries(entries, skipped, nRefs), nil
}

func newTargetSetFromEntries(entries []bedEntry, skipped []string, nRefs int) *TargetSet {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].refID != entries[j].refID {
			return entries[i].refID < entries[j].refID
		}
		if entries[i].start != entries[j].start {
			return entries[i].start < entries[j].start
		}
		return entries[i].end < entries[j].end
	})

	s := &TargetSet{
		byRef:   make([][]Target, nRefs),
		trees:   make([]*store.IntTree, nRefs),
		skipped: skipped,
	}
	nextID := 0
	for i := 0; i < len(entries); {
		refID := entries[i].refID
		start, end := entries[i].start, entries[i].end
		j := i + 1
		for ; j < len(entries) && entries[j].refID == refID && entries[j].start <= end; j++ {
			if entries[j].end > end {
				end = entries[j].end
			}
		}
		target := Target{RefID: refID, Start: start, End: end, ID: nextID}
		s.byRef[refID] = append(s.byRef[refID], target)
		if s.trees[refID] == nil {
			s.trees[refID] = &store.IntTree{}
		}
		// The local index within the reference keys the tree back into byRef.
		_ = s.trees[refID].Insert(treeTarget{
			start: int(start),
			end:   int(end),
			id:    uintptr(len(s.byRef[refID]) - 1),
		}, false)
		nextID++
		i = j
	}
	s.n = nextID
	return s
}

// NewTargetSetFromPath is a wrapper for NewTargetSet that takes a path
// instead of an io.Reader.  Gzipped BEDs are decompressed transparently.
func NewTargetSetFromPath(path string, refIDs map[string]int, nRefs int) (s *TargetSet, err error) {
	ctx := vcontext.Background()
	var infile file.File
	if infile, err = file.Open(ctx, path); err != nil {
		return
	}
	defer func() {
		if cerr := infile.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	reader := io.Reader(infile.Reader(ctx))
	switch fileio.DetermineType(path) {
	case fileio.Gzip:
		if reader, err = gzip.NewReader(reader); err != nil {
			return
		}
	}
	return NewTargetSet(reader, refIDs, nRefs)
}
