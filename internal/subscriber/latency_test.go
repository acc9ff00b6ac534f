package subscriber

import "testing"

func TestLatencyDistribution_PercentileLaw(t *testing.T) {
	d := NewLatencyDistribution()
	for _, v := range []int{1, 2, 2, 3, 3, 3, 10, 600, 900} {
		d.Record(v)
	}

	p999 := d.Percentile(99.9)

	count := 0
	recorded := []int{1, 2, 2, 3, 3, 3, 10, 600, 600}
	for _, v := range recorded {
		if v <= p999 {
			count++
		}
	}
	total := len(recorded)
	if float64(count) < 99.9/100*float64(total) {
		t.Fatalf("percentile(99.9)=%d covers only %d/%d observations, violates percentile law", p999, count, total)
	}
}

func TestLatencyDistribution_ClampsAboveMax(t *testing.T) {
	d := NewLatencyDistribution()
	d.Record(10000)
	if got := d.Percentile(100); got != maxDeadlineSeconds {
		t.Fatalf("expected clamp to %d, got %d", maxDeadlineSeconds, got)
	}
}

func TestLatencyDistribution_EmptyReturnsZero(t *testing.T) {
	d := NewLatencyDistribution()
	if got := d.Percentile(50); got != 0 {
		t.Fatalf("expected 0 for empty distribution, got %d", got)
	}
}
