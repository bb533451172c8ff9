package store

import (
	"log"
	"sync"
)

type watcher struct {
	parent string
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (w *watcher) stop() {
	w.once.Do(func() { close(w.done) })
}

// Watch delivers the full ordered child list of parent to fn, immediately and
// again after every committed write under that parent. fn runs on a dedicated
// goroutine per watcher; rapid writes may be coalesced into one delivery
// carrying the latest state. The returned cancel is idempotent and must be
// called on teardown — a leaked watcher keeps its goroutine and deliveries
// alive indefinitely.
func (s *Store) Watch(parent string, fn func([]Document)) (cancel func()) {
	w := &watcher{
		parent: parent,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.watchers[w] = struct{}{}
	s.mu.Unlock()

	go s.runWatcher(w, fn)

	return func() {
		w.stop()
		s.mu.Lock()
		delete(s.watchers, w)
		s.mu.Unlock()
	}
}

func (s *Store) runWatcher(w *watcher, fn func([]Document)) {
	deliver := func() {
		docs, err := s.List(w.parent)
		if err != nil {
			log.Printf("store: watch list %s: %v", w.parent, err)
			return
		}
		fn(docs)
	}

	deliver()

	for {
		select {
		case <-w.done:
			return
		case <-w.wake:
			select {
			case <-w.done:
				return
			default:
			}
			deliver()
		}
	}
}

func (s *Store) notify(parents map[string]struct{}) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for w := range s.watchers {
		if _, ok := parents[w.parent]; !ok {
			continue
		}
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
}
