package notify

import (
	"time"

	"lazythumb/internal/item"
)

// ProgressEvent is one emission of an item subscription. The last event on
// a stream either has Done set (Progress 1.0) or carries Err.
type ProgressEvent struct {
	Ref      item.Ref   `json:"ref"`
	State    item.State `json:"-"`
	Progress float64    `json:"progress"`
	Done     bool       `json:"done"`
	Err      error      `json:"-"`
	At       time.Time  `json:"at"`
}

// CompletionEvent is the single emission of a completion subscription.
type CompletionEvent struct {
	Ref item.Ref  `json:"ref"`
	Err error     `json:"-"`
	At  time.Time `json:"at"`
}

// DirectoryEvent carries a directory snapshot, or a terminal Err.
type DirectoryEvent struct {
	Snapshot item.DirectorySnapshot `json:"snapshot"`
	Err      error                  `json:"-"`
}
