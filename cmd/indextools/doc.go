/*Command indextools estimates per-region data volume from a BAM index and
  computes balanced genomic partitions for parallel downstream analysis.

  The partition subcommand reads a .bai file, estimates the relative volume
  of every 16kb window from the index's virtual file offsets, and greedily
  packs windows into the requested number of contiguous, approximately
  equal-volume intervals, written as a BED file.

  Usage: indextools partition -I sample.bam.bai -z contigs.tsv -n 64 -o partitions.bed

  Contig sizes come either from a two-column sizes file (-z) or from the
  header of the BAM itself (-i).  An optional target BED (-t) suppresses
  volume outside the targets.
*/
package main
