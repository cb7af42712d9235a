package telemetry

import (
	"sync"
	"testing"
)

func TestHistogram_Observe(t *testing.T) {
	h := newHistogram([]float64{1, 5, 10})

	for _, v := range []float64{0.5, 3, 7, 20} {
		h.Observe(v)
	}

	if h.Count() != 4 {
		t.Errorf("count = %d, want 4", h.Count())
	}
	if h.Sum() != 30.5 {
		t.Errorf("sum = %g, want 30.5", h.Sum())
	}

	cum := h.cumulativeBuckets()
	want := []int64{1, 2, 3} // le=1: 1, le=5: 2, le=10: 3; 20 only in +Inf
	for i := range want {
		if cum[i] != want[i] {
			t.Errorf("cumulative[%d] = %d, want %d", i, cum[i], want[i])
		}
	}
}

func TestHistogram_ConcurrentObserve(t *testing.T) {
	h := newHistogram([]float64{1})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.Observe(0.5)
			}
		}()
	}
	wg.Wait()

	if h.Count() != 2000 {
		t.Errorf("count = %d, want 2000", h.Count())
	}
	if h.Sum() != 1000 {
		t.Errorf("sum = %g, want 1000", h.Sum())
	}
}

func TestLabelsKey(t *testing.T) {
	if got := LabelsKey("GET", "/assessments", "200"); got != "GET|/assessments|200" {
		t.Errorf("LabelsKey = %q", got)
	}
	if got := LabelsKey("single"); got != "single" {
		t.Errorf("LabelsKey single = %q", got)
	}
}

func TestCounterStore(t *testing.T) {
	s := newCounterStore()
	s.inc("a")
	s.inc("a")
	s.inc("b")

	if s.get("a") != 2 || s.get("b") != 1 {
		t.Errorf("unexpected counts a=%d b=%d", s.get("a"), s.get("b"))
	}
	if s.get("missing") != 0 {
		t.Error("missing counter must read 0")
	}

	snap := s.snapshot()
	if len(snap) != 2 || snap["a"] != 2 {
		t.Errorf("unexpected snapshot %v", snap)
	}
}

func TestGaugeStore(t *testing.T) {
	s := newGaugeStore()
	s.set("g", 5)
	s.add("g", 2)
	s.add("g", -3)

	if s.get("g") != 4 {
		t.Errorf("gauge = %d, want 4", s.get("g"))
	}
	s.add("fresh", 1)
	if s.get("fresh") != 1 {
		t.Errorf("add on missing gauge = %d, want 1", s.get("fresh"))
	}
}

func TestLabeledHistogramStore(t *testing.T) {
	s := newLabeledHistogramStore()
	h1 := s.getOrCreate("cardio-age", []float64{1})
	h2 := s.getOrCreate("cardio-age", []float64{1})
	if h1 != h2 {
		t.Error("same key must return the same histogram")
	}
	h3 := s.getOrCreate("sleep-apnea", []float64{1})
	if h1 == h3 {
		t.Error("different keys must get distinct histograms")
	}
	if len(s.snapshot()) != 2 {
		t.Errorf("snapshot size = %d, want 2", len(s.snapshot()))
	}
}
