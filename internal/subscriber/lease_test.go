package subscriber

import (
	"testing"
	"time"
)

func TestExpirationTable_AddAndRemove(t *testing.T) {
	tbl := NewExpirationTable()
	tbl.Add("ack-1", 100, time.Now().Add(time.Minute))

	if tbl.Len() != 1 {
		t.Fatalf("expected 1 lease, got %d", tbl.Len())
	}

	bytes, ok := tbl.Remove("ack-1")
	if !ok || bytes != 100 {
		t.Fatalf("expected to remove lease with 100 bytes, got %d/%v", bytes, ok)
	}
	if tbl.Len() != 0 {
		t.Fatalf("expected 0 leases after remove, got %d", tbl.Len())
	}
}

func TestExpirationTable_ExtendDue_ReportsSurvivorAsNextExpiry(t *testing.T) {
	tbl := NewExpirationTable()
	now := time.Now()
	tbl.Add("live", 10, now.Add(time.Second))

	cutOver := bucketKeyFor(now.Add(time.Second).Add(500 * time.Millisecond))
	extensions, nextExpiry, hasNext := tbl.ExtendDue(cutOver, now)

	if len(extensions) != 1 || extensions[0].AckID != "live" {
		t.Fatalf("expected live to be extended, got %v", extensions)
	}
	if !hasNext {
		t.Fatal("expected hasNext true: the just-extended survivor must be reported as the next alarm time")
	}
	wantExpiry := now.Add(time.Duration(initialExtensionSeconds) * time.Second)
	if !nextExpiry.Equal(wantExpiry) {
		t.Fatalf("expected nextExpiry %v (the survivor's new expiration), got %v", wantExpiry, nextExpiry)
	}
}

func TestExpirationTable_ExtendDue_ReportsFutureBucketAsNextExpiry(t *testing.T) {
	tbl := NewExpirationTable()
	now := time.Now()
	tbl.Add("due", 10, now.Add(time.Second))
	tbl.Add("future", 10, now.Add(time.Hour))

	cutOver := bucketKeyFor(now.Add(time.Second).Add(500 * time.Millisecond))
	_, nextExpiry, hasNext := tbl.ExtendDue(cutOver, now)

	if !hasNext {
		t.Fatal("expected hasNext true")
	}
	// The re-extended survivor ("due") expires in initialExtensionSeconds,
	// well before the untouched future bucket, so it must win.
	wantExpiry := now.Add(time.Duration(initialExtensionSeconds) * time.Second)
	if !nextExpiry.Equal(wantExpiry) {
		t.Fatalf("expected nextExpiry %v (the nearer survivor), got %v", wantExpiry, nextExpiry)
	}
}
