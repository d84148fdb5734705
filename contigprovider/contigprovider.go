// Package contigprovider supplies the ordered (contig name, length) list that
// accompanies a BAM index.  The list can come from a two-column sizes file or
// from the @SQ lines of a BAM header; both implementations preserve input
// order, which must match the index's reference order.
package contigprovider

import (
	"bufio"
	"context"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	biogobam "github.com/grailbio/hts/bam"
	"github.com/pkg/errors"
	"v.io/x/lib/vlog"
)

// Contig is one reference sequence.
type Contig struct {
	Name   string
	Length int
}

// Provider yields the ordered contig list.
type Provider interface {
	Contigs(ctx context.Context) ([]Contig, error)
}

// TSVProvider reads contigs from a tab-separated file with lines of the form
// "name<TAB>length".  Blank lines are ignored.
type TSVProvider struct {
	// Path is the location of the sizes file.
	Path string
}

// Contigs implements Provider.
func (p *TSVProvider) Contigs(ctx context.Context) (contigs []Contig, err error) {
	var in file.File
	if in, err = file.Open(ctx, p.Path); err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)

	scanner := bufio.NewScanner(in.Reader(ctx))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			return nil, errors.Errorf("contigprovider: %s line %d: want 2 tab-separated fields, got %d", p.Path, lineNum, len(fields))
		}
		if len(fields) > 2 {
			vlog.Errorf("contigprovider: %s line %d: ignoring %d extra field(s)", p.Path, lineNum, len(fields)-2)
		}
		length, e := strconv.Atoi(fields[1])
		if e != nil {
			return nil, errors.Wrapf(e, "contigprovider: %s line %d: bad length %q", p.Path, lineNum, fields[1])
		}
		if length < 0 {
			return nil, errors.Errorf("contigprovider: %s line %d: negative length %d", p.Path, lineNum, length)
		}
		contigs = append(contigs, Contig{Name: fields[0], Length: length})
	}
	if e := scanner.Err(); e != nil {
		return nil, errors.Wrapf(e, "contigprovider: reading %s", p.Path)
	}
	return contigs, nil
}

// BAMProvider reads contigs from the @SQ lines of a BAM header.
type BAMProvider struct {
	// Path is the location of the BAM file.  Only the header is decoded.
	Path string
}

// Contigs implements Provider.
func (p *BAMProvider) Contigs(ctx context.Context) (contigs []Contig, err error) {
	var in file.File
	if in, err = file.Open(ctx, p.Path); err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)

	bamr, err := biogobam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		return nil, errors.Wrapf(err, "contigprovider: reading BAM header of %s", p.Path)
	}
	defer func() {
		if e := bamr.Close(); e != nil && err == nil {
			err = e
		}
	}()

	refs := bamr.Header().Refs()
	contigs = make([]Contig, 0, len(refs))
	for _, ref := range refs {
		contigs = append(contigs, Contig{Name: ref.Name(), Length: ref.Len()})
	}
	return contigs, nil
}
