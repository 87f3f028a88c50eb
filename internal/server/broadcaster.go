package server

import (
	"go.uber.org/zap"

	"github.com/arlc/groupchat/internal/protocol"
)

// broadcastLocked writes payload to every non-empty slot except the one
// at index except (pass -1 to reach everyone, including the sender).
// Send failures are logged and never propagate: the worker owning the
// failing slot will notice on its own next read and tear itself down.
// Callers must hold h.mu.
func (h *Hub) broadcastLocked(payload []byte, except int) {
	for i, s := range h.slots {
		if s.empty() || i == except {
			continue
		}
		if err := protocol.SendFrame(s.conn, payload); err != nil {
			h.log.Debug("broadcast send failed", zap.Int("slot", i), zap.Error(err))
		}
	}
}

// sendToLocked writes payload to the single slot at idx, if occupied.
// Callers must hold h.mu.
func (h *Hub) sendToLocked(idx int, payload []byte) {
	s := h.slots[idx]
	if s.empty() {
		return
	}
	if err := protocol.SendFrame(s.conn, payload); err != nil {
		h.log.Debug("send failed", zap.Int("slot", idx), zap.Error(err))
	}
}

// broadcastGroupMembersListLocked sends the current ordered membership to
// every connected slot. Callers must hold h.mu.
func (h *Hub) broadcastGroupMembersListLocked() {
	payload, err := protocol.Encode(protocol.TypeGroupMembersList, protocol.GroupMembersListPayload{
		Members: h.members(),
	})
	if err != nil {
		h.log.Error("encode group members list", zap.Error(err))
		return
	}
	h.broadcastLocked(payload, -1)
}

// broadcastUserNotificationLocked announces a join or leave to every slot
// except except. Callers must hold h.mu.
func (h *Hub) broadcastUserNotificationLocked(event, username string, except int) {
	payload, err := protocol.Encode(protocol.TypeUserNotification, protocol.UserNotificationPayload{
		Event:    event,
		Username: username,
	})
	if err != nil {
		h.log.Error("encode user notification", zap.Error(err))
		return
	}
	h.broadcastLocked(payload, except)
}
