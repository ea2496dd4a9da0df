package wheel

import "testing"

func TestInsertWithinRangeFiresOnSlot(t *testing.T) {
	w := New(8)
	w.Insert(100, 3)

	for i := 0; i < 2; i++ {
		if due := w.Advance(); len(due) != 0 {
			t.Fatalf("tick %d: expected no firings, got %v", i+1, due)
		}
	}
	due := w.Advance()
	if len(due) != 1 || due[0] != 100 {
		t.Fatalf("expected [100] on the 3rd tick, got %v", due)
	}
}

func TestInsertZeroDelayFiresNextTick(t *testing.T) {
	w := New(8)
	w.Insert(1, 0)
	due := w.Advance()
	if len(due) != 1 || due[0] != 1 {
		t.Fatalf("expected immediate firing, got %v", due)
	}
}

func TestOverflowEntryGraduatesIntoSlot(t *testing.T) {
	w := New(4)
	w.Insert(7, 5) // exceeds size=4, goes to overflow

	if w.over.Len() != 1 {
		t.Fatalf("expected task in overflow heap, over.Len()=%d", w.over.Len())
	}

	for i := 0; i < 5; i++ {
		due := w.Advance()
		if i < 4 {
			if len(due) != 0 {
				t.Fatalf("tick %d: expected no firings yet, got %v", i+1, due)
			}
			continue
		}
		if len(due) != 1 || due[0] != 7 {
			t.Fatalf("tick %d: expected [7], got %v", i+1, due)
		}
	}
}

func TestRemoveFromSlot(t *testing.T) {
	w := New(8)
	w.Insert(42, 2)
	w.Remove(42)
	for i := 0; i < 5; i++ {
		if due := w.Advance(); len(due) != 0 {
			t.Fatalf("tick %d: expected removed task to never fire, got %v", i+1, due)
		}
	}
	if w.Len() != 0 {
		t.Fatalf("expected empty wheel, Len()=%d", w.Len())
	}
}

func TestRemoveFromOverflow(t *testing.T) {
	w := New(4)
	w.Insert(9, 100)
	w.Remove(9)
	if w.Len() != 0 {
		t.Fatalf("expected empty wheel, Len()=%d", w.Len())
	}
	for i := 0; i < 200; i++ {
		if due := w.Advance(); len(due) != 0 {
			t.Fatalf("tick %d: removed overflow task fired unexpectedly: %v", i+1, due)
		}
	}
}

func TestMultipleTasksSameSlotPreserveInsertionOrder(t *testing.T) {
	w := New(8)
	w.Insert(1, 3)
	w.Insert(2, 3)
	w.Insert(3, 3)

	w.Advance()
	w.Advance()
	due := w.Advance()
	if len(due) != 3 || due[0] != 1 || due[1] != 2 || due[2] != 3 {
		t.Fatalf("expected [1 2 3] in insertion order, got %v", due)
	}
}

func TestWheelWrapsAroundMultipleRotations(t *testing.T) {
	w := New(4)
	w.Insert(1, 4) // exactly one full rotation, goes to overflow since size<=delay
	fired := -1
	for i := 1; i <= 8; i++ {
		due := w.Advance()
		if len(due) == 1 && due[0] == 1 {
			fired = i
			break
		}
	}
	if fired != 4 {
		t.Fatalf("expected task to fire on tick 4, fired on %d", fired)
	}
}

func TestNewPanicsOnNonPositiveSize(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for size <= 0")
		}
	}()
	New(0)
}
