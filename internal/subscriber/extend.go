package subscriber

import (
	"sync"
	"time"

	"github.com/oriys/vega/internal/ticker"
)

const extensionAlarmID = "lease-extension"

// LeaseExtender owns the single scheduled alarm that sweeps the Expiration
// Table ahead of expiry and pushes modify-deadline entries into the Ack
// Batcher (spec.md §4.3). It piggy-backs the debounce alarm: whenever the
// extension alarm fires it flushes the batcher itself, so any pending
// debounce timer is redundant and gets cancelled.
type LeaseExtender struct {
	table   *ExpirationTable
	batcher *AckBatcher
	exec    ticker.ScheduledExecutor
	padding time.Duration

	alarmMu  sync.Mutex
	hasAlarm bool
	fireAt   time.Time

	now func() time.Time
}

// NewLeaseExtender wires a LeaseExtender over table, flushing through
// batcher's ModAck/Flush and scheduling its alarm on exec. padding is the
// user-configured safety margin (the GLOSSARY's "Padding") subtracted from
// a bucket's expiration when computing the alarm's fire time.
func NewLeaseExtender(table *ExpirationTable, batcher *AckBatcher, exec ticker.ScheduledExecutor, padding time.Duration) *LeaseExtender {
	return &LeaseExtender{
		table:   table,
		batcher: batcher,
		exec:    exec,
		padding: padding,
		now:     time.Now,
	}
}

// OnBucketScheduled is called by the Receiver Dispatcher after registering a
// new Expiration Bucket. It computes the candidate alarm time for that
// bucket and, if it is earlier than whatever is currently scheduled,
// re-arms the alarm (spec.md §4.3's second paragraph).
func (e *LeaseExtender) OnBucketScheduled(bucketExpiresAt time.Time) {
	candidate := bucketExpiresAt.Add(-e.padding)

	e.alarmMu.Lock()
	if e.hasAlarm && !candidate.Before(e.fireAt) {
		e.alarmMu.Unlock()
		return
	}
	e.alarmMu.Unlock()

	e.armAt(candidate)
}

// armAt unconditionally (re)schedules the alarm at fireAt, replacing
// whatever was previously scheduled (used both by OnBucketScheduled, which
// already checked it is earlier, and by fire's own rescheduling for the
// next due bucket).
func (e *LeaseExtender) armAt(fireAt time.Time) {
	e.alarmMu.Lock()
	e.hasAlarm = true
	e.fireAt = fireAt
	e.alarmMu.Unlock()

	delay := time.Until(fireAt)
	if delay < 0 {
		delay = 0
	}
	e.exec.Schedule(extensionAlarmID, delay, e.fire)
}

// fire runs one extension sweep: it computes the cutOver boundary,
// re-extends every due bucket, flushes the resulting modify-deadline
// entries (and anything else pending) through the batcher, and reschedules
// itself for the next bucket if one remains.
func (e *LeaseExtender) fire() {
	now := e.now()
	cutOverAt := now.Add(e.padding).Add(500 * time.Millisecond)
	cutOver := cutOverAt.Unix()
	if cutOverAt.Nanosecond() > 0 {
		cutOver++ // round up to the next whole second
	}

	extensions, nextExpiry, hasNext := e.table.ExtendDue(cutOver, now)
	for _, ext := range extensions {
		e.batcher.ModAck(ext.AckID, ext.ExtensionSeconds)
	}

	// The sweep flushes the batcher itself, so any pending debounce alarm
	// would only duplicate work; AckBatcher.Flush is idempotent against an
	// empty queue so there is nothing to explicitly cancel here beyond
	// calling it.
	e.batcher.Flush()

	e.alarmMu.Lock()
	e.hasAlarm = false
	e.alarmMu.Unlock()

	if hasNext {
		e.armAt(nextExpiry.Add(-e.padding))
	}
}

// Stop cancels the extension alarm.
func (e *LeaseExtender) Stop() {
	e.exec.Cancel(extensionAlarmID)
}
