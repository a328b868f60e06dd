package store

import (
	"sort"
	"sync"
)

// Locks serializes actions per player. An action touching several players
// takes all of their locks in ascending id order.
type Locks struct {
	mu    sync.Mutex
	locks map[int64]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func NewLocks() *Locks {
	return &Locks{locks: make(map[int64]*entry)}
}

// Lock blocks until every id is held and returns the matching unlock.
func (l *Locks) Lock(ids ...int64) (unlock func()) {
	ids = dedupSorted(ids)
	held := make([]*entry, 0, len(ids))
	for _, id := range ids {
		e := l.acquire(id)
		e.mu.Lock()
		held = append(held, e)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.release(ids[i])
		}
	}
}

func (l *Locks) acquire(id int64) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[id]
	if !ok {
		e = &entry{}
		l.locks[id] = e
	}
	e.refs++
	return e
}

func (l *Locks) release(id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.locks[id]
	e.refs--
	if e.refs == 0 {
		delete(l.locks, id)
	}
}

func dedupSorted(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 0
	for i, id := range out {
		if i == 0 || id != out[n-1] {
			out[n] = id
			n++
		}
	}
	return out[:n]
}
