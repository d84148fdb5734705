// Package bai parses BAM index (.bai) files into an in-memory per-reference
// form suitable for data-volume estimation.  Only the index is read; the BAM
// data path is never touched.
package bai

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/grailbio/hts/bgzf"
)

const (
	// MetadataBin is the pseudo-bin number that carries per-reference
	// metadata (byte span and mapped/unmapped counts) instead of coverage.
	MetadataBin = 37450

	// maxBinCount is the number of bins in the five-level UCSC binning
	// scheme, ((1<<18)-1)/7, plus one slot for the metadata pseudo-bin.
	maxBinCount = 37450

	// TileWidth is the base-pair width of one linear-index tile.
	TileWidth = 0x4000
)

var baiMagic = [4]byte{'B', 'A', 'I', 0x1}

// MalformedIndexError describes a structural violation in a .bai file.  Offset
// is the byte position at which the violation was detected.
type MalformedIndexError struct {
	Offset int64
	Reason string
}

func (e *MalformedIndexError) Error() string {
	return fmt.Sprintf("malformed index at byte %d: %s", e.Offset, e.Reason)
}

// Index represents the content of a .bai index file.
type Index struct {
	Magic [4]byte
	Refs  []Reference
	// UnplacedCount is the n_no_coor trailer (count of unplaced reads), when
	// present.
	UnplacedCount *uint64
}

// Reference represents one reference slot within a .bai file.
type Reference struct {
	Bins      []Bin
	Intervals []bgzf.Offset
	Meta      Metadata
	HasMeta   bool
	// PatchedZeros counts linear-index entries that were zero on disk and
	// forward-filled from the preceding entry.
	PatchedZeros int
}

// Bin represents one coverage bin within a reference.
type Bin struct {
	BinNum uint32
	Chunks []Chunk
}

// Chunk is a [Begin, End) range of virtual file offsets.
type Chunk struct {
	Begin bgzf.Offset
	End   bgzf.Offset
}

// Metadata is the decoded content of the metadata pseudo-bin.
type Metadata struct {
	MappedBegin   uint64
	MappedEnd     uint64
	MappedCount   uint64
	UnmappedCount uint64
}

// VOffset flattens o into the 64-bit virtual-offset ordering used by BGZF:
// the compressed block start in the high 48 bits, the within-block offset in
// the low 16.
func VOffset(o bgzf.Offset) int64 {
	return o.File<<16 | int64(o.Block)
}

func toOffset(voffset uint64) bgzf.Offset {
	return bgzf.Offset{
		File:  int64(voffset >> 16),
		Block: uint16(voffset),
	}
}

func isZero(o bgzf.Offset) bool {
	return o == bgzf.Offset{}
}

// countingReader tracks the byte offset of r so that errors can name the
// position at which parsing failed.
type countingReader struct {
	r   io.Reader
	off int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.off += int64(n)
	return n, err
}

func (c *countingReader) readInt32(dst *int32) error {
	at := c.off
	if err := binary.Read(c, binary.LittleEndian, dst); err != nil {
		return &MalformedIndexError{Offset: at, Reason: "short read"}
	}
	return nil
}

func (c *countingReader) readUint32(dst *uint32) error {
	at := c.off
	if err := binary.Read(c, binary.LittleEndian, dst); err != nil {
		return &MalformedIndexError{Offset: at, Reason: "short read"}
	}
	return nil
}

func (c *countingReader) readUint64(dst *uint64) error {
	at := c.off
	if err := binary.Read(c, binary.LittleEndian, dst); err != nil {
		return &MalformedIndexError{Offset: at, Reason: "short read"}
	}
	return nil
}

// ReadIndex parses the content of r and returns an Index, or nil and a
// *MalformedIndexError naming the failing byte offset.  The linear index of
// every reference is forward-filled before it is returned: a zero entry with
// a non-zero predecessor is replaced by that predecessor, and the patch count
// is recorded on the Reference.
func ReadIndex(r io.Reader) (*Index, error) {
	cr := &countingReader{r: r}
	i := &Index{}

	if _, err := io.ReadFull(cr, i.Magic[0:]); err != nil {
		return nil, &MalformedIndexError{Offset: 0, Reason: "short read"}
	}
	if i.Magic != baiMagic {
		return nil, &MalformedIndexError{Offset: 0, Reason: fmt.Sprintf("invalid magic %q", i.Magic[:])}
	}

	var refCount int32
	if err := cr.readInt32(&refCount); err != nil {
		return nil, err
	}
	if refCount < 0 {
		return nil, &MalformedIndexError{Offset: 4, Reason: fmt.Sprintf("negative reference count %d", refCount)}
	}
	i.Refs = make([]Reference, refCount)

	for refID := 0; int32(refID) < refCount; refID++ {
		ref, err := readReference(cr)
		if err != nil {
			return nil, err
		}
		i.Refs[refID] = ref
	}

	// The n_no_coor trailer is optional; a clean EOF here is not an error.
	var unplaced uint64
	if err := binary.Read(cr, binary.LittleEndian, &unplaced); err == nil {
		i.UnplacedCount = &unplaced
	} else if err != io.EOF {
		return nil, &MalformedIndexError{Offset: cr.off, Reason: "short read in n_no_coor trailer"}
	}
	return i, nil
}

func readReference(cr *countingReader) (Reference, error) {
	ref := Reference{}

	binCountAt := cr.off
	var binCount int32
	if err := cr.readInt32(&binCount); err != nil {
		return ref, err
	}
	if binCount < 0 {
		return ref, &MalformedIndexError{Offset: binCountAt, Reason: fmt.Sprintf("negative bin count %d", binCount)}
	}
	if binCount > maxBinCount {
		return ref, &MalformedIndexError{
			Offset: binCountAt,
			Reason: fmt.Sprintf("bin count %d exceeds the UCSC maximum %d", binCount, maxBinCount),
		}
	}
	ref.Bins = make([]Bin, 0, binCount)

	for b := 0; int32(b) < binCount; b++ {
		var binNum uint32
		if err := cr.readUint32(&binNum); err != nil {
			return ref, err
		}
		chunkCountAt := cr.off
		var chunkCount int32
		if err := cr.readInt32(&chunkCount); err != nil {
			return ref, err
		}
		if chunkCount < 0 {
			return ref, &MalformedIndexError{Offset: chunkCountAt, Reason: fmt.Sprintf("negative chunk count %d", chunkCount)}
		}

		bin := Bin{
			BinNum: binNum,
			Chunks: make([]Chunk, chunkCount),
		}
		for c := 0; int32(c) < chunkCount; c++ {
			chunkAt := cr.off
			var beginOffset, endOffset uint64
			if err := cr.readUint64(&beginOffset); err != nil {
				return ref, err
			}
			if err := cr.readUint64(&endOffset); err != nil {
				return ref, err
			}
			// The metadata pseudo-bin reuses the chunk encoding for counters,
			// so its "chunks" are exempt from the ordering requirement.
			if binNum != MetadataBin && endOffset <= beginOffset {
				return ref, &MalformedIndexError{
					Offset: chunkAt,
					Reason: fmt.Sprintf("chunk end %d <= begin %d in bin %d", endOffset, beginOffset, binNum),
				}
			}
			bin.Chunks[c] = Chunk{
				Begin: toOffset(beginOffset),
				End:   toOffset(endOffset),
			}
		}

		if binNum == MetadataBin {
			if len(bin.Chunks) != 2 {
				return ref, &MalformedIndexError{
					Offset: chunkCountAt,
					Reason: fmt.Sprintf("metadata bin has %d chunks, want 2", len(bin.Chunks)),
				}
			}
			ref.Meta = Metadata{
				MappedBegin:   uint64(VOffset(bin.Chunks[0].Begin)),
				MappedEnd:     uint64(VOffset(bin.Chunks[0].End)),
				MappedCount:   uint64(VOffset(bin.Chunks[1].Begin)),
				UnmappedCount: uint64(VOffset(bin.Chunks[1].End)),
			}
			ref.HasMeta = true
		} else {
			ref.Bins = append(ref.Bins, bin)
		}
	}

	intervalCountAt := cr.off
	var intervalCount int32
	if err := cr.readInt32(&intervalCount); err != nil {
		return ref, err
	}
	if intervalCount < 0 {
		return ref, &MalformedIndexError{Offset: intervalCountAt, Reason: fmt.Sprintf("negative interval count %d", intervalCount)}
	}
	ref.Intervals = make([]bgzf.Offset, intervalCount)
	for inv := 0; int32(inv) < intervalCount; inv++ {
		var ioffset uint64
		if err := cr.readUint64(&ioffset); err != nil {
			return ref, err
		}
		ref.Intervals[inv] = toOffset(ioffset)
	}
	ref.PatchedZeros = patchIntervals(ref.Intervals)
	return ref, nil
}

// patchIntervals forward-fills zero linear-index entries from the preceding
// non-zero entry, working around indexers that emit zeros for tiles inside a
// reference.  Leading zeros have no predecessor and are left alone.  Returns
// the number of entries patched.
func patchIntervals(intervals []bgzf.Offset) int {
	patched := 0
	for i := 1; i < len(intervals); i++ {
		if isZero(intervals[i]) && !isZero(intervals[i-1]) {
			intervals[i] = intervals[i-1]
			patched++
		}
	}
	return patched
}

// Offsets returns the sorted, strictly increasing list of virtual offsets
// named by the reference: its (patched) linear index plus both endpoints of
// every chunk of every coverage bin.  Zero offsets are excluded.
func (r *Reference) Offsets() []bgzf.Offset {
	offsets := make([]bgzf.Offset, 0, len(r.Intervals)+2*len(r.Bins))
	for _, bin := range r.Bins {
		for _, chunk := range bin.Chunks {
			if !isZero(chunk.Begin) {
				offsets = append(offsets, chunk.Begin)
			}
			if !isZero(chunk.End) {
				offsets = append(offsets, chunk.End)
			}
		}
	}
	for _, interval := range r.Intervals {
		if !isZero(interval) {
			offsets = append(offsets, interval)
		}
	}

	sort.SliceStable(offsets, func(i, j int) bool {
		return VOffset(offsets[i]) < VOffset(offsets[j])
	})

	uniq := offsets[:0]
	previous := bgzf.Offset{File: -1}
	for _, offset := range offsets {
		if offset != previous {
			uniq = append(uniq, offset)
			previous = offset
		}
	}
	return uniq
}
