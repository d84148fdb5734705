package partition

import (
	"io"
	"strconv"

	"github.com/grailbio/base/tsv"
)

// WriteBED emits one BED record per partition: contig, start, end, name,
// volume, a placeholder strand column, and (when withFeatures) the number of
// targets the partition overlaps.  Coordinates are 0-based half-open; records
// are in reference order; there is no header line.
func WriteBED(w io.Writer, parts []Partition, withFeatures bool) error {
	out := tsv.NewWriter(w)
	for i := range parts {
		p := &parts[i]
		out.WriteString(p.Contig)
		out.WriteUint32(uint32(p.Start))
		out.WriteUint32(uint32(p.End))
		out.WriteString(p.Name)
		out.WriteString(strconv.FormatInt(p.Volume, 10))
		out.WriteByte('.')
		if withFeatures {
			out.WriteString(strconv.Itoa(p.FeatureCount))
		}
		if err := out.EndLine(); err != nil {
			return err
		}
	}
	return out.Flush()
}
