package realtime

import "sync"

// Hub is the in-process group registry. Sessions join and leave groups;
// Broadcast copies a payload to every session currently in the group.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[*Session]struct{}
}

func NewHub() *Hub {
	return &Hub{groups: make(map[string]map[*Session]struct{})}
}

func (h *Hub) join(group string, session *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		members = make(map[*Session]struct{})
		h.groups[group] = members
	}
	members[session] = struct{}{}
}

func (h *Hub) leave(group string, session *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		return
	}
	delete(members, session)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

// Broadcast delivers a payload to every local member of the group. Slow
// consumers are skipped rather than blocking the hub.
func (h *Hub) Broadcast(group string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for session := range h.groups[group] {
		select {
		case session.send <- payload:
		default:
		}
	}
}

// GroupSize reports how many local sessions are in a group.
func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}
