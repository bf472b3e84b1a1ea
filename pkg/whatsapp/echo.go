package whatsapp

import "sync"

// echoCapacity bounds the number of outstanding outbound message IDs.
const echoCapacity = 500

// echoSuppressor is an insertion-ordered, capacity-bounded set of message
// IDs originated by this process. Membership at any instant means "sent
// but not yet echoed back".
type echoSuppressor struct {
	mu       sync.Mutex
	capacity int
	order    []string
	present  map[string]struct{}
}

func newEchoSuppressor(capacity int) *echoSuppressor {
	return &echoSuppressor{
		capacity: capacity,
		present:  make(map[string]struct{}, capacity),
	}
}

// record adds an identifier, evicting the oldest inserted entry when the
// bound is exceeded.
func (s *echoSuppressor) record(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.present[id]; ok {
		return
	}
	s.order = append(s.order, id)
	s.present[id] = struct{}{}
	for len(s.order) > s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.present, oldest)
	}
}

// consume removes the identifier and reports whether it was present.
func (s *echoSuppressor) consume(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.present[id]; !ok {
		return false
	}
	delete(s.present, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *echoSuppressor) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
