// Package codec decodes, resizes and encodes thumbnail images.
//
// The Default adapter decodes JPEG, PNG, GIF, BMP, TIFF and WebP through
// imaging and the x/image decoders, shrinking oversized sources with libvips
// when InitVips has been called. Video frames come from ffmpeg. Audio cover
// art is read from ID3, MP4 and Vorbis/FLAC tags with ffmpeg's attached
// picture stream as a fallback.
//
// Thumbnails are encoded as PNG so the disk cache round-trips them without
// loss.
package codec
