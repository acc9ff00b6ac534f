package subscriber

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// initialExtensionSeconds is the Expiration Bucket's starting
// next_extension_seconds (spec.md §3), doubled on every sweep that
// re-extends it.
const initialExtensionSeconds = 2

// ModifyDeadlineEntry is one ack id paired with the extension (in seconds)
// the Lease Extender wants to push for it.
type ModifyDeadlineEntry struct {
	AckID            string
	ExtensionSeconds int32
}

// bucketResolution is the width of a single expiration bucket. Grouping
// leases into buckets lets the sweep loop do O(buckets) work per tick
// instead of scanning every individual lease (spec.md §3's Expiration
// Bucket/Expiration Table).
const bucketResolution = time.Second

// LeaseHandle tracks one outstanding message: its ack ID, the deadline by
// which the service must receive an ack/modAck or consider it expired, and
// the byte size charged against the flow controller.
type LeaseHandle struct {
	AckID      string
	Bytes      int64
	ReceivedAt time.Time
	expiresAt  time.Time
	bucketKey  int64

	// nextExtensionSeconds is the bucket's doubling extension counter
	// (spec.md §3's Expiration Bucket: initialized to 2, doubled on each
	// extension). Handles that share a bucket share this value because
	// they were extended together.
	nextExtensionSeconds int32

	// decided is set once, atomically, when a terminal ack or nack has
	// been enqueued to the batcher. The Lease Extender skips decided
	// handles without taking any lock beyond the expiration table's own
	// (spec.md §4.2's completion path, §5's Ordering guarantees).
	decided atomic.Bool
}

// MarkDecided sets decided and reports whether this call was the one that
// transitioned it (false if already decided, so callers never double-count
// a terminal decision).
func (h *LeaseHandle) MarkDecided() bool {
	return h.decided.CompareAndSwap(false, true)
}

// Decided reports whether a terminal ack/nack has already been recorded for
// this handle.
func (h *LeaseHandle) Decided() bool {
	return h.decided.Load()
}

// ExpirationTable is the bucketed map+sweep structure that tracks every
// outstanding lease's expiration, modeled on the teacher's job-progress
// tracker (map + RWMutex + periodic cleanup ticker), bucketed the way the
// GLOSSARY's Expiration Bucket describes instead of one entry per message.
type ExpirationTable struct {
	mu      sync.Mutex
	leases  map[string]*LeaseHandle   // ackID -> lease
	buckets map[int64]map[string]bool // bucket key -> set of ackIDs expiring in that bucket
}

// NewExpirationTable creates an empty table.
func NewExpirationTable() *ExpirationTable {
	return &ExpirationTable{
		leases:  make(map[string]*LeaseHandle),
		buckets: make(map[int64]map[string]bool),
	}
}

func bucketKeyFor(t time.Time) int64 {
	return t.Unix() / int64(bucketResolution/time.Second)
}

// Add records a new lease expiring at expiresAt. Replaces any existing
// lease registered under the same ack ID.
func (t *ExpirationTable) Add(ackID string, bytes int64, expiresAt time.Time) *LeaseHandle {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.leases[ackID]; ok {
		t.removeFromBucket(ackID, old.bucketKey)
	}

	key := bucketKeyFor(expiresAt)
	h := &LeaseHandle{
		AckID:                ackID,
		Bytes:                bytes,
		ReceivedAt:           time.Now(),
		expiresAt:            expiresAt,
		bucketKey:            key,
		nextExtensionSeconds: initialExtensionSeconds,
	}
	t.leases[ackID] = h
	t.addToBucket(ackID, key)
	return h
}

// ExtendDue walks buckets in ascending expiration-key order and, for every
// bucket whose key is ≤ cutOver, extends each non-decided handle's
// expiration to now+next_extension_seconds (doubling that counter for next
// time) and drops decided ones outright. It reports the minimum expiration
// across every bucket left in the table once the sweep completes — both the
// buckets past cutOver it never touched and the re-extended survivors it
// just re-inserted under new keys — as the next alarm time, implementing
// the sweep described in spec.md §4.3.
func (t *ExpirationTable) ExtendDue(cutOver int64, now time.Time) (extensions []ModifyDeadlineEntry, nextExpiry time.Time, hasNext bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make([]int64, 0, len(t.buckets))
	for k := range t.buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, key := range keys {
		if key > cutOver {
			continue
		}

		ackIDs := t.buckets[key]
		var survivors []string
		for ackID := range ackIDs {
			h, ok := t.leases[ackID]
			if !ok {
				continue
			}
			if h.Decided() {
				delete(t.leases, ackID)
				continue
			}

			ext := h.nextExtensionSeconds
			if ext <= 0 {
				ext = initialExtensionSeconds
			}
			newExpiry := now.Add(time.Duration(ext) * time.Second)
			extensions = append(extensions, ModifyDeadlineEntry{AckID: ackID, ExtensionSeconds: ext})

			h.expiresAt = newExpiry
			h.nextExtensionSeconds = ext * 2
			h.bucketKey = bucketKeyFor(newExpiry)
			survivors = append(survivors, ackID)
		}
		delete(t.buckets, key)
		for _, ackID := range survivors {
			t.addToBucket(ackID, t.leases[ackID].bucketKey)
		}
	}

	for _, ackIDs := range t.buckets {
		for ackID := range ackIDs {
			if h, ok := t.leases[ackID]; ok {
				if !hasNext || h.expiresAt.Before(nextExpiry) {
					nextExpiry = h.expiresAt
					hasNext = true
				}
			}
		}
	}
	return extensions, nextExpiry, hasNext
}

// Remove deletes a lease (called on ack or nack), returning its byte size
// so the caller can release flow-control credit.
func (t *ExpirationTable) Remove(ackID string) (bytes int64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.leases[ackID]
	if !ok {
		return 0, false
	}
	t.removeFromBucket(ackID, h.bucketKey)
	delete(t.leases, ackID)
	return h.Bytes, true
}

// Get returns the tracked handle for ackID, if any.
func (t *ExpirationTable) Get(ackID string) (*LeaseHandle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.leases[ackID]
	return h, ok
}

// Len reports the number of outstanding leases.
func (t *ExpirationTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.leases)
}

func (t *ExpirationTable) addToBucket(ackID string, key int64) {
	set, ok := t.buckets[key]
	if !ok {
		set = make(map[string]bool)
		t.buckets[key] = set
	}
	set[ackID] = true
}

func (t *ExpirationTable) removeFromBucket(ackID string, key int64) {
	if set, ok := t.buckets[key]; ok {
		delete(set, ackID)
		if len(set) == 0 {
			delete(t.buckets, key)
		}
	}
}
