// Package broadcast fans out change signals to watchers keyed by path.
//
// Status sources use a Hub to turn their writes into wake-ups for
// subscriptions. A signal carries no payload; it only means "re-read now".
package broadcast
