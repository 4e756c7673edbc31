package session

import (
	"sync"
	"testing"
)

type fakeHandle struct {
	spawned, dead bool
}

func (h *fakeHandle) IsValid() bool     { return h.spawned && !h.dead }
func (h *fakeHandle) IsDestroyed() bool { return h.dead }
func (h *fakeHandle) Kill()             { h.dead = true }

func handles(n int) ([]Handle, []*fakeHandle) {
	hs := make([]Handle, n)
	raw := make([]*fakeHandle, n)
	for i := range hs {
		raw[i] = &fakeHandle{spawned: true}
		hs[i] = raw[i]
	}
	return hs, raw
}

func TestTryAcquire_Exclusive(t *testing.T) {
	tab := NewTable()
	l, ok := tab.TryAcquire("a")
	if !ok {
		t.Fatalf("first acquire failed")
	}
	hs, _ := handles(3)
	l.RecordLastRestore(hs)

	if _, ok := tab.TryAcquire("a"); ok {
		t.Fatalf("second acquire succeeded")
	}
	if st := tab.Stats(); len(st) != 1 || !st[0].Busy || st[0].Undoable != 3 {
		t.Fatalf("failed acquire changed state: %+v", st)
	}
	other, ok := tab.TryAcquire("b")
	if !ok {
		t.Fatalf("other actor blocked")
	}
	other.Release()

	l.Release()
	l.Release()
	l2, ok := tab.TryAcquire("a")
	if !ok {
		t.Fatalf("acquire after release failed")
	}
	if got := len(l2.TakeLastRestore()); got != 3 {
		t.Fatalf("undo list=%d", got)
	}
	if got := len(l2.TakeLastRestore()); got != 0 {
		t.Fatalf("take did not clear: %d", got)
	}
	l2.Release()
}

func TestTryAcquire_Concurrent(t *testing.T) {
	tab := NewTable()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	start := make(chan struct{})
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok := tab.TryAcquire("same"); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins=%d want 1", wins)
	}
}

func TestUndo_KillsLiveHandles(t *testing.T) {
	hs, raw := handles(4)
	raw[1].dead = true
	raw[2].spawned = false
	if n := Undo(hs); n != 2 {
		t.Fatalf("removed=%d want 2", n)
	}
	if !raw[0].dead || !raw[3].dead || raw[2].dead {
		t.Fatalf("wrong handles killed: %+v %+v %+v", raw[0], raw[2], raw[3])
	}
	if n := Undo(hs); n != 0 {
		t.Fatalf("second undo removed %d", n)
	}
}

func TestDisconnect_DropsUndoListWithoutKilling(t *testing.T) {
	tab := NewTable()
	l, _ := tab.TryAcquire("a")
	hs, raw := handles(2)
	l.RecordLastRestore(hs)
	l.Release()

	tab.Disconnect("a")
	if len(tab.Stats()) != 0 {
		t.Fatalf("session survived disconnect")
	}
	if raw[0].dead || raw[1].dead {
		t.Fatalf("disconnect killed entities")
	}
	l, _ = tab.TryAcquire("a")
	if got := l.TakeLastRestore(); len(got) != 0 {
		t.Fatalf("undo list survived: %d", len(got))
	}
	l.Release()
}

func TestDisconnect_DuringOperation(t *testing.T) {
	tab := NewTable()
	l, _ := tab.TryAcquire("a")
	tab.Disconnect("a")

	// reconnect while the old operation still runs
	if _, ok := tab.TryAcquire("a"); ok {
		t.Fatalf("acquire while previous operation running")
	}
	hs, _ := handles(2)
	if l.RecordLastRestore(hs) {
		t.Fatalf("record after disconnect accepted")
	}
	l.Release()

	l2, ok := tab.TryAcquire("a")
	if !ok {
		t.Fatalf("acquire after release failed")
	}
	if got := l2.TakeLastRestore(); len(got) != 0 {
		t.Fatalf("stale undo list: %d", len(got))
	}
	l2.Release()
}
