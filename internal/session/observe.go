package session

import "github.com/ashureev/story-refiner/internal/domain"

// Subscribe registers an observer that receives a snapshot after every
// mutation. Delivery never blocks the writer: a slow observer only sees the
// most recent snapshot. Call the returned function to unsubscribe.
func (s *Store) Subscribe() (<-chan domain.Snapshot, func()) {
	ch := make(chan domain.Snapshot, 1)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once bool
	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if once {
			return
		}
		once = true
		delete(s.subs, id)
		close(ch)
	}
	return ch, cancel
}

func (s *Store) publish(snap domain.Snapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	// Mutations publish after releasing the state lock, so an older snapshot
	// can arrive late.
	if snap.Version <= s.published {
		return
	}
	s.published = snap.Version

	for _, ch := range s.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		// Drop the stale snapshot and keep the newest.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
