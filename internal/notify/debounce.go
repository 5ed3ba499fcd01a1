package notify

import "time"

// Debouncer collapses bursts of raw notifications into a steady cadence.
//
// The first notification after a quiet period of at least interval is
// processed at once. Later ones inside the window are coalesced into a
// single trailing pass when the window closes, so the last change of a
// burst is never lost. Flush hands back a pass that is still owed when the
// stream ends. A Debouncer is owned by one goroutine.
type Debouncer struct {
	interval time.Duration
	last     time.Time
	pending  bool
	timer    *time.Timer
}

// NewDebouncer returns a Debouncer with the given window.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

// MarkProcessed records a pass that ran without a notification, such as
// an initial scan, so the window starts from it.
func (d *Debouncer) MarkProcessed(now time.Time) {
	d.last = now
}

// Notify records a raw notification at now and reports whether it should
// be processed immediately. When it returns false the notification has
// been folded into the pending trailing pass.
func (d *Debouncer) Notify(now time.Time) bool {
	if d.last.IsZero() || now.Sub(d.last) >= d.interval {
		d.last = now
		if d.pending {
			d.pending = false
			d.Stop()
		}
		return true
	}
	if !d.pending {
		d.pending = true
		d.arm(d.last.Add(d.interval).Sub(now))
	}
	return false
}

// C delivers when the trailing pass is due. It is nil when none is pending.
func (d *Debouncer) C() <-chan time.Time {
	if !d.pending || d.timer == nil {
		return nil
	}
	return d.timer.C
}

// Fire is called when C delivers and reports whether the trailing pass
// should run.
func (d *Debouncer) Fire(now time.Time) bool {
	if !d.pending {
		return false
	}
	d.pending = false
	d.last = now
	return true
}

// Pending reports whether a trailing pass is owed.
func (d *Debouncer) Pending() bool {
	return d.pending
}

// Flush clears and reports a pending trailing pass.
func (d *Debouncer) Flush() bool {
	p := d.pending
	d.pending = false
	d.Stop()
	return p
}

// Stop releases the timer.
func (d *Debouncer) Stop() {
	if d.timer != nil {
		d.timer.Stop()
	}
}

func (d *Debouncer) arm(wait time.Duration) {
	if wait < 0 {
		wait = 0
	}
	if d.timer == nil {
		d.timer = time.NewTimer(wait)
		return
	}
	d.timer.Reset(wait)
}
