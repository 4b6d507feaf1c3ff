package hub

import (
	"github.com/orchestra-mcp/brightsocket/src/types"
)

func (h *Hub) deliver(bm broadcastMsg) {
	h.mu.RLock()
	var targets []*Client
	if bm.group == "" {
		targets = make([]*Client, 0, len(h.clients))
		for _, c := range h.clients {
			targets = append(targets, c)
		}
	} else {
		// Copy members to avoid holding the lock during sends.
		for id := range h.groups[bm.group] {
			if c, ok := h.clients[id]; ok {
				targets = append(targets, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.enqueue(bm.msg); err != nil {
			h.logger.Warn().
				Err(err).
				Str("client_id", c.id).
				Str("action", bm.msg.Action).
				Msg("dropping broadcast")
		}
	}
}

// publishToBridge forwards a message to the bridge if one is attached.
func (h *Hub) publishToBridge(bm broadcastMsg) {
	h.mu.RLock()
	b := h.bridge
	h.mu.RUnlock()

	if b == nil || !b.Available() {
		return
	}
	if err := b.Publish(bm.group, bm.msg); err != nil {
		h.logger.Error().Err(err).Msg("bridge publish failed")
	}
}

// Broadcast sends an action to every connected client.
func (h *Hub) Broadcast(action string, payload any) {
	h.queue(broadcastMsg{msg: types.Message{Action: action, Payload: payload}})
}

// Publish sends an action to every member of a group.
func (h *Hub) Publish(group, action string, payload any) {
	if group == "" {
		h.logger.Warn().Str("action", action).Msg("publish without group ignored")
		return
	}
	h.queue(broadcastMsg{group: group, msg: types.Message{Action: action, Payload: payload}})
}

func (h *Hub) queue(bm broadcastMsg) {
	select {
	case h.broadcast <- bm:
	case <-h.done:
	}
}

// Subscribe adds a client to a group.
func (h *Hub) Subscribe(group, clientID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[clientID]
	if !ok {
		return false
	}
	if h.groups[group] == nil {
		h.groups[group] = make(map[string]bool)
	}
	h.groups[group][clientID] = true
	client.AddGroup(group)
	return true
}

// Unsubscribe removes a client from a group.
func (h *Hub) Unsubscribe(group, clientID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[group]
	if !ok {
		return false
	}
	delete(members, clientID)
	if len(members) == 0 {
		delete(h.groups, group)
	}
	if c, ok := h.clients[clientID]; ok {
		c.RemoveGroup(group)
	}
	return true
}
