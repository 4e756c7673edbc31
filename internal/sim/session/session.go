package session

import (
	"sort"
	"sync"
)

// Handle is an entity created by a restore. Kill must run on the world loop.
type Handle interface {
	IsValid() bool
	IsDestroyed() bool
	Kill()
}

// Table holds per-actor state: whether a save or load is running and the
// entities created by the actor's latest restore.
type Table struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

type Session struct {
	actorID string

	busy        bool
	gen         uint64
	detached    bool
	lastRestore []Handle
}

func NewTable() *Table {
	return &Table{sessions: map[string]*Session{}}
}

func (t *Table) getLocked(actorID string) *Session {
	s := t.sessions[actorID]
	if s == nil {
		s = &Session{actorID: actorID}
		t.sessions[actorID] = s
	}
	s.detached = false
	return s
}

// TryAcquire marks the actor busy. It returns false without side effects if
// another operation of the same actor is still running.
func (t *Table) TryAcquire(actorID string) (*Lease, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.getLocked(actorID)
	if s.busy {
		return nil, false
	}
	s.busy = true
	return &Lease{t: t, s: s, gen: s.gen}, true
}

// Disconnect forgets the actor. The undo list is dropped without killing
// anything. A running operation keeps the actor busy until it releases.
func (t *Table) Disconnect(actorID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.sessions[actorID]
	if s == nil {
		return
	}
	s.gen++
	s.lastRestore = nil
	s.detached = true
	if !s.busy {
		delete(t.sessions, actorID)
	}
}

func (t *Table) Busy(actorID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.sessions[actorID]
	return s != nil && s.busy
}

type Stat struct {
	ActorID  string `json:"actor_id"`
	Busy     bool   `json:"busy"`
	Undoable int    `json:"undoable"`
}

// Stats lists every known actor sorted by id.
func (t *Table) Stats() []Stat {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Stat, 0, len(t.sessions))
	for id, s := range t.sessions {
		out = append(out, Stat{ActorID: id, Busy: s.busy, Undoable: len(s.lastRestore)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActorID < out[j].ActorID })
	return out
}

// Lease is proof that its holder is the actor's only running operation.
type Lease struct {
	t        *Table
	s        *Session
	gen      uint64
	released bool
}

func (l *Lease) ActorID() string { return l.s.actorID }

// Release clears the busy flag. Calling it more than once is harmless.
func (l *Lease) Release() {
	l.t.mu.Lock()
	defer l.t.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	l.s.busy = false
	if l.s.detached && l.t.sessions[l.s.actorID] == l.s {
		delete(l.t.sessions, l.s.actorID)
	}
}

// RecordLastRestore replaces the undo list. It reports false and drops hs
// when the actor disconnected after the lease was taken.
func (l *Lease) RecordLastRestore(hs []Handle) bool {
	l.t.mu.Lock()
	defer l.t.mu.Unlock()
	if l.s.gen != l.gen {
		return false
	}
	l.s.lastRestore = append([]Handle(nil), hs...)
	return true
}

// TakeLastRestore returns the undo list and leaves it empty.
func (l *Lease) TakeLastRestore() []Handle {
	l.t.mu.Lock()
	defer l.t.mu.Unlock()
	hs := l.s.lastRestore
	l.s.lastRestore = nil
	return hs
}

// Undo kills every handle that is still alive and returns how many it
// removed.
func Undo(hs []Handle) int {
	n := 0
	for _, h := range hs {
		if h == nil || !h.IsValid() || h.IsDestroyed() {
			continue
		}
		h.Kill()
		n++
	}
	return n
}
