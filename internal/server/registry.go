// Package server implements the server side of the group chat: the fixed
// session-slot registry, the Burmester-Desmedt key-exchange coordinator,
// and the broadcaster that routes frames between slots.
package server

import (
	"net"

	"github.com/arlc/groupchat/internal/protocol"
)

// MaxClients is the fixed capacity of the session registry.
const MaxClients = 30

// slot is one server-internal session container. A slot is empty when
// conn is nil. Its receive buffer belongs to it exclusively and is never
// shared with any other slot.
type slot struct {
	conn            net.Conn
	username        string
	publicKey       uint64
	completedRound1 bool
	intermediate    uint64
	recv            protocol.RecvBuffer
}

func (s *slot) empty() bool {
	return s == nil || s.conn == nil
}

func (s *slot) clear() {
	s.conn = nil
	s.username = ""
	s.publicKey = 0
	s.completedRound1 = false
	s.intermediate = 0
	s.recv = protocol.RecvBuffer{}
}

// firstEmptySlot returns the index of the first empty slot, or -1 if the
// registry is full. Callers must hold h.mu.
func (h *Hub) firstEmptySlot() int {
	for i, s := range h.slots {
		if s.empty() {
			return i
		}
	}
	return -1
}

// members returns a snapshot of the current group members list, in ring
// order. Callers must hold h.mu.
func (h *Hub) members() []protocol.Member {
	out := make([]protocol.Member, len(h.group))
	copy(out, h.group)
	return out
}

// indexOfUsername returns the slot index owning username, or -1.
// Callers must hold h.mu.
func (h *Hub) indexOfUsername(username string) int {
	for i, s := range h.slots {
		if !s.empty() && s.username == username {
			return i
		}
	}
	return -1
}

// groupIndexOf returns the position of username within h.group, or -1.
// Callers must hold h.mu.
func (h *Hub) groupIndexOf(username string) int {
	for i, m := range h.group {
		if m.Username == username {
			return i
		}
	}
	return -1
}

// removeFromGroup deletes username from h.group in place, preserving the
// relative order of survivors. Callers must hold h.mu.
func (h *Hub) removeFromGroup(username string) {
	idx := h.groupIndexOf(username)
	if idx < 0 {
		return
	}
	h.group = append(h.group[:idx], h.group[idx+1:]...)
}
