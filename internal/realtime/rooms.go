package realtime

// room is one entry of the desired membership set.
type room struct {
	id  string
	typ string
}

// roomSet is an insertion-ordered set of rooms keyed by id. Re-adding an id
// keeps its position and updates its type.
type roomSet struct {
	order []string
	types map[string]string
}

func newRoomSet() *roomSet {
	return &roomSet{types: make(map[string]string)}
}

func (s *roomSet) add(id, typ string) {
	if _, ok := s.types[id]; !ok {
		s.order = append(s.order, id)
	}
	s.types[id] = typ
}

func (s *roomSet) remove(id string) {
	if _, ok := s.types[id]; !ok {
		return
	}
	delete(s.types, id)
	for i, r := range s.order {
		if r == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *roomSet) has(id string) bool {
	_, ok := s.types[id]
	return ok
}

func (s *roomSet) list() []room {
	out := make([]room, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, room{id: id, typ: s.types[id]})
	}
	return out
}

func (s *roomSet) ids() []string {
	return append([]string(nil), s.order...)
}

func (s *roomSet) len() int {
	return len(s.order)
}

func (s *roomSet) clear() {
	s.order = nil
	s.types = make(map[string]string)
}
