// Package thumbcache is the two-tier thumbnail cache.
//
// The memory tier is an LRU of decoded images bounded by entry count and
// by an estimated byte budget (four bytes per pixel). The disk tier is a
// flat directory of PNG files named from the item's base name, a short
// path hash and the thumbnail dimensions; there is no index file. Disk
// writes go through a temp file and rename so readers never see a partial
// thumbnail.
package thumbcache
