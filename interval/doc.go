/*Package interval implements target-interval-union operations in a manner
  suited to sets of genomic coordinates represented by BED files.
  (Note the 'union'.  Overlapping and touching intervals are merged at load
  time; each merged interval then carries a stable ID in genome order.)
  It assumes every position fits in a PosType, which is currently defined as
  int32 since that's what BAM files are limited to.
*/
package interval
