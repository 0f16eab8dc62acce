package pipeline

import (
	"reflect"
	"testing"
)

func TestRing_Empty(t *testing.T) {
	r := newRing[int](3)
	if _, ok := r.Last(); ok {
		t.Error("Last on empty ring must report false")
	}
	if r.Len() != 0 || len(r.Items()) != 0 {
		t.Errorf("got len %d / items %v, want empty", r.Len(), r.Items())
	}
}

func TestRing_PartialFill(t *testing.T) {
	r := newRing[int](3)
	r.Push(1)
	r.Push(2)

	if got := r.Items(); !reflect.DeepEqual(got, []int{1, 2}) {
		t.Errorf("got items %v, want [1 2]", got)
	}
	last, ok := r.Last()
	if !ok || last != 2 {
		t.Errorf("got last %d (ok=%v), want 2", last, ok)
	}
}

func TestRing_EvictsOldestFIFO(t *testing.T) {
	r := newRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}

	if got := r.Items(); !reflect.DeepEqual(got, []int{3, 4, 5}) {
		t.Errorf("got items %v, want [3 4 5]", got)
	}
	last, ok := r.Last()
	if !ok || last != 5 {
		t.Errorf("got last %d (ok=%v), want 5", last, ok)
	}
	if r.Len() != 3 {
		t.Errorf("got len %d, want 3", r.Len())
	}
}

func TestRing_MinimumCapacity(t *testing.T) {
	r := newRing[string](0)
	r.Push("a")
	r.Push("b")
	if got := r.Items(); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("got items %v, want only the newest entry", got)
	}
}
