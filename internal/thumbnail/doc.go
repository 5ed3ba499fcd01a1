// Package thumbnail turns items into thumbnail images.
//
// A request goes to the cache first. On a miss the item's materialization
// status decides what happens next: items whose bytes are not local get a
// pending icon that is never cached, and materialized items are dispatched
// on their media kind to the codec. Generation never fails; anything that
// cannot be decoded falls back to a procedurally drawn icon.
package thumbnail
