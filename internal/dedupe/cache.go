// ABOUTME: Size-bounded window that suppresses repeats of the same key
// ABOUTME: Used to stop a sign-in link being mailed twice to one address in quick succession

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key string
	at  time.Time
}

// Window remembers keys for a fixed period. Entries are kept oldest first,
// so expired ones are always at the front of the list.
type Window struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New returns a window that remembers each key for ttl and holds at most
// maxSize keys, dropping the oldest when full.
func New(ttl time.Duration, maxSize int) *Window {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Window{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Seen reports whether key was marked within the window.
func (w *Window) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked()
	_, ok := w.index[key]
	return ok
}

// CheckAndMark marks key and reports whether it was already inside the
// window. A repeat does not extend the original mark.
func (w *Window) CheckAndMark(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked()
	if _, ok := w.index[key]; ok {
		return true
	}
	if w.order.Len() >= w.maxSize {
		w.removeLocked(w.order.Front())
	}
	w.index[key] = w.order.PushBack(&entry{key: key, at: w.now()})
	return false
}

// Forget drops key so the next CheckAndMark succeeds.
func (w *Window) Forget(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if el, ok := w.index[key]; ok {
		w.removeLocked(el)
	}
}

// Len returns the number of live keys.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked()
	return w.order.Len()
}

func (w *Window) pruneLocked() {
	cutoff := w.now().Add(-w.ttl)
	for el := w.order.Front(); el != nil; el = w.order.Front() {
		if el.Value.(*entry).at.After(cutoff) {
			return
		}
		w.removeLocked(el)
	}
}

func (w *Window) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	w.order.Remove(el)
	delete(w.index, el.Value.(*entry).key)
}
