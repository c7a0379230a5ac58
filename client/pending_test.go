package client

import "testing"

func TestInsertAndCompleteOnce(t *testing.T) {
	m := newPendingMap()
	m.insert(&pendingRequest{id: "r1"})

	p, ok := m.completeOnce("r1")
	if !ok || p.id != "r1" {
		t.Fatalf("completeOnce(r1) = (%v, %v), want found", p, ok)
	}

	if _, ok := m.completeOnce("r1"); ok {
		t.Fatal("second completeOnce for the same id must not find an entry")
	}
}

func TestCompleteOnceUnknownID(t *testing.T) {
	m := newPendingMap()
	if _, ok := m.completeOnce("missing"); ok {
		t.Fatal("completeOnce(missing) should report not found")
	}
}

func TestDrainAllRemovesEveryEntry(t *testing.T) {
	m := newPendingMap()
	m.insert(&pendingRequest{id: "a"})
	m.insert(&pendingRequest{id: "b"})
	m.insert(&pendingRequest{id: "c"})

	drained := m.drainAll()
	if len(drained) != 3 {
		t.Fatalf("drained %d entries, want 3", len(drained))
	}
	if _, ok := m.completeOnce("a"); ok {
		t.Fatal("entries should be gone after drainAll")
	}
}

func TestResponseVersusTimeoutRaceResolvesOnce(t *testing.T) {
	m := newPendingMap()
	m.insert(&pendingRequest{id: "race"})

	winners := make(chan bool, 2)
	done := make(chan struct{})
	for i := 0; i < 2; i++ {
		go func() {
			_, ok := m.completeOnce("race")
			winners <- ok
			done <- struct{}{}
		}()
	}
	<-done
	<-done
	close(winners)

	trueCount := 0
	for ok := range winners {
		if ok {
			trueCount++
		}
	}
	if trueCount != 1 {
		t.Fatalf("exactly one of response/timeout should win, got %d", trueCount)
	}
}
