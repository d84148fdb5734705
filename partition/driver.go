package partition

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/indextools/contigprovider"
	"github.com/grailbio/indextools/encoding/bai"
	"github.com/grailbio/indextools/interval"
	"github.com/grailbio/indextools/volume"
	"github.com/klauspost/compress/gzip"
)

// Opts configures Run.
type Opts struct {
	// BAIPath is the BAM index to partition.
	BAIPath string
	// TargetsPath optionally restricts volume to a BED of target regions.
	TargetsPath string
	// Partitions is the requested partition count.
	Partitions int
	// OutputPath is the partition BED to write.  A ".gz" suffix gzips the
	// output.
	OutputPath string
	// Timeout bounds the whole run when positive.
	Timeout time.Duration
}

// DefaultOpts holds the default values for Opts.
var DefaultOpts = Opts{
	Partitions: 100,
}

// InconsistentInputsError reports disagreement between the BAM index and the
// contig provider.
type InconsistentInputsError struct {
	Reason string
}

func (e *InconsistentInputsError) Error() string {
	return "inconsistent inputs: " + e.Reason
}

// Run executes the partition pipeline: parse the index, estimate per-window
// volume, optionally mask to targets, partition, and write the BED.  The
// output file appears atomically; on any failure the temporary is removed
// and no partial output is left behind.
func Run(ctx context.Context, provider contigprovider.Provider, opts *Opts) (err error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	contigs, err := provider.Contigs(ctx)
	if err != nil {
		return err
	}

	idx, err := readIndex(ctx, opts.BAIPath)
	if err != nil {
		return err
	}
	if len(idx.Refs) != len(contigs) {
		return &InconsistentInputsError{
			Reason: fmt.Sprintf("index has %d reference slots, contig provider has %d", len(idx.Refs), len(contigs)),
		}
	}
	if idx.UnplacedCount != nil {
		log.Printf("partition: index reports %d unplaced read(s)", *idx.UnplacedCount)
	}

	var targets *interval.TargetSet
	if opts.TargetsPath != "" {
		refIDs := make(map[string]int, len(contigs))
		for i, c := range contigs {
			refIDs[c.Name] = i
		}
		if targets, err = interval.NewTargetSetFromPath(opts.TargetsPath, refIDs, len(contigs)); err != nil {
			return errors.E(err, "loading targets", opts.TargetsPath)
		}
		for _, name := range targets.SkippedContigs() {
			log.Printf("partition: target contig %s not in index; skipped", name)
		}
	}

	refVols, err := volume.EstimateAll(ctx, idx, contigs)
	if err != nil {
		return err
	}
	summary := volume.Summarize(idx, refVols)
	if summary.PatchedZeros > 0 {
		log.Printf("partition: patched %d zero linear-index entr(ies)", summary.PatchedZeros)
	}
	log.Debug.Printf("partition: %d leading empty tile(s) across references", summary.LeadingTiles)
	log.Printf("partition: %d window(s), %d nonzero, total volume %d, mean %.1f, median %.1f",
		summary.WindowCount, summary.NonZero, summary.Total, summary.Mean, summary.Median)

	contigWins, err := buildWindows(ctx, refVols, targets)
	if err != nil {
		return err
	}
	result, err := Plan(contigWins, opts.Partitions)
	if err != nil {
		return err
	}
	if result.Degenerate {
		log.Printf("partition: no volume signal; partitions are equal-width by length")
	}
	if !targets.Empty() {
		for i := range result.Partitions {
			p := &result.Partitions[i]
			p.FeatureCount = len(targets.Overlapping(p.RefID, p.Start, p.End))
		}
	}

	return writeBEDAtomic(opts.OutputPath, result.Partitions, !targets.Empty())
}

func readIndex(ctx context.Context, path string) (idx *bai.Index, err error) {
	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	if idx, err = bai.ReadIndex(in.Reader(ctx)); err != nil {
		// Keep the typed error intact; the CLI maps it to an exit code.
		log.Error.Printf("%s: %v", path, err)
		return nil, err
	}
	return idx, nil
}

// buildWindows converts estimator output into partitioner input, applying the
// target mask when targets are present.  Windows outside every target are
// kept at volume zero so partitions stay positionally contiguous.
func buildWindows(ctx context.Context, refVols []volume.RefVolumes, targets *interval.TargetSet) ([]ContigWindows, error) {
	contigWins := make([]ContigWindows, len(refVols))
	for i := range refVols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rv := &refVols[i]
		cw := ContigWindows{RefID: rv.RefID, Name: rv.Name, Length: rv.Length}
		if len(rv.Windows) > 0 {
			cw.Wins = make([]Win, len(rv.Windows))
			for j, w := range rv.Windows {
				win := Win{Start: w.Start, End: w.End, Volume: w.Volume, OpenTarget: -1}
				if !targets.Empty() {
					win.Volume, _, win.OpenTarget = targets.MaskWindow(rv.RefID, w.Start, w.End, w.Volume)
				}
				cw.Wins[j] = win
			}
		}
		contigWins[i] = cw
	}
	return contigWins, nil
}

func writeBEDAtomic(path string, parts []Partition, withFeatures bool) (err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := ioutil.TempFile(dir, base+".tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	w := io.Writer(tmp)
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(tmp)
		w = gz
	}
	if err = WriteBED(w, parts, withFeatures); err != nil {
		tmp.Close()
		return err
	}
	if gz != nil {
		if err = gz.Close(); err != nil {
			tmp.Close()
			return err
		}
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
