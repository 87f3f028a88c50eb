package server

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arlc/groupchat/internal/protocol"
)

// DefaultSettleDelay is the pragmatic pause between a membership change
// and the next epoch start, giving participants time to receive the
// updated members list before round 1 begins.
const DefaultSettleDelay = 100 * time.Millisecond

// fullMessage is the plain-text (non-JSON) frame sent to a connection
// that arrives when every slot is occupied.
const fullMessage = "Server is full!"

// Hub is the server-side coordinator: it owns the fixed session-slot
// registry, the group members list, and the key-exchange epoch, all
// guarded by a single mutex, per the design notes' "single coordinator
// object" guidance.
type Hub struct {
	mu    sync.Mutex
	slots [MaxClients]*slot
	group []protocol.Member
	epoch epoch

	log         *zap.Logger
	settleDelay time.Duration
	assign      [MaxClients]chan net.Conn
	quit        chan struct{}
	wg          sync.WaitGroup
	listener    net.Listener
}

// NewHub constructs a Hub ready to Serve. log must not be nil.
func NewHub(log *zap.Logger) *Hub {
	h := &Hub{
		log:         log,
		settleDelay: DefaultSettleDelay,
		quit:        make(chan struct{}),
	}
	for i := range h.slots {
		h.assign[i] = make(chan net.Conn)
	}
	return h
}

// ListenAndServe binds addr and serves connections until Shutdown is
// called or the listener fails.
func (h *Hub) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return h.Serve(ln)
}

// Serve runs the acceptor loop plus the pre-spawned worker pool over an
// already-bound listener. It blocks until the listener is closed.
func (h *Hub) Serve(ln net.Listener) error {
	h.listener = ln

	for i := 0; i < MaxClients; i++ {
		h.wg.Add(1)
		go h.worker(i)
	}

	h.log.Info("server listening", zap.String("addr", ln.Addr().String()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-h.quit:
				return nil
			default:
				h.log.Error("accept error", zap.Error(err))
				if errors.Is(err, net.ErrClosed) {
					return err
				}
				continue
			}
		}
		h.accept(conn)
	}
}

// Shutdown signals every worker to exit at its next loop head and closes
// all live connections. It waits for all workers to drain.
func (h *Hub) Shutdown() {
	close(h.quit)
	if h.listener != nil {
		h.listener.Close()
	}

	h.mu.Lock()
	for _, s := range h.slots {
		if !s.empty() {
			s.conn.Close()
		}
	}
	h.mu.Unlock()

	h.wg.Wait()
}

// accept places a new connection into the first empty slot, or rejects
// it with the capacity message if the registry is full.
func (h *Hub) accept(conn net.Conn) {
	h.mu.Lock()
	idx := h.firstEmptySlot()
	if idx < 0 {
		h.mu.Unlock()
		h.log.Info("rejecting connection: server full")
		protocol.SendFrame(conn, []byte(fullMessage))
		conn.Close()
		return
	}
	h.slots[idx] = &slot{conn: conn}
	h.mu.Unlock()

	h.assign[idx] <- conn
}

// worker is the long-running task bound for its lifetime to slot idx. It
// blocks waiting for a connection to be assigned, serves that connection
// to completion, and then waits for the next one — a pre-spawned worker
// pool, not per-connection goroutine spawn.
func (h *Hub) worker(idx int) {
	defer h.wg.Done()
	for {
		select {
		case conn := <-h.assign[idx]:
			h.serveSlot(idx, conn)
		case <-h.quit:
			return
		}
	}
}

// serveSlot runs one connection's full lifecycle: join handshake, serving
// loop, disconnect teardown.
func (h *Hub) serveSlot(idx int, conn net.Conn) {
	if !h.joinHandshake(idx, conn) {
		return
	}

	for {
		frame, err := h.slots[idx].recv.Next(conn)
		if err != nil {
			h.disconnect(idx)
			return
		}

		env, err := protocol.Decode(frame)
		if err != nil {
			h.log.Debug("dropping malformed frame", zap.Int("slot", idx), zap.Error(err))
			continue
		}

		h.dispatch(idx, env)
	}
}

// dispatch routes one successfully-decoded frame from an authenticated
// slot to the appropriate handler.
func (h *Hub) dispatch(idx int, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeSendGroupMessage:
		h.handleSendGroupMessage(idx, env)
	case protocol.TypeIntermediateValue:
		h.handleIntermediateValue(idx, env)
	case protocol.TypeRound2Completed:
		h.mu.Lock()
		h.onRound2Completed(idx)
		h.mu.Unlock()
	default:
		h.log.Debug("dropping frame with unknown type", zap.Int("slot", idx), zap.String("type", env.Type))
	}
}

func (h *Hub) handleSendGroupMessage(idx int, env protocol.Envelope) {
	var payload protocol.SendGroupMessagePayload
	if err := env.DecodePayload(&payload); err != nil {
		h.log.Debug("dropping malformed group message", zap.Int("slot", idx), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.slots[idx]
	if s.empty() {
		return
	}

	out, err := protocol.Encode(protocol.TypeBroadcastGroupMessage, protocol.BroadcastGroupMessagePayload{
		Sender:     s.username,
		Ciphertext: payload.Ciphertext,
		Channel:    payload.Channel,
	})
	if err != nil {
		h.log.Error("encode broadcast group message", zap.Error(err))
		return
	}
	h.broadcastLocked(out, idx)
}

func (h *Hub) handleIntermediateValue(idx int, env protocol.Envelope) {
	var payload protocol.IntermediateValuePayload
	if err := env.DecodePayload(&payload); err != nil {
		h.log.Debug("dropping malformed intermediate value", zap.Int("slot", idx), zap.Error(err))
		return
	}

	h.mu.Lock()
	h.onIntermediateValue(idx, payload.IntermediateValue)
	h.mu.Unlock()
}

// joinHandshake awaits exactly one C2S_AUTHENTICATE_AND_JOIN frame and
// either admits the participant or tears the slot down, per the error
// handling policy: any failure here closes the connection and clears the
// slot without admitting the participant.
func (h *Hub) joinHandshake(idx int, conn net.Conn) bool {
	s := h.slots[idx]

	frame, err := s.recv.Next(conn)
	if err != nil {
		h.rejectSlot(idx)
		return false
	}

	env, err := protocol.Decode(frame)
	if err != nil || env.Type != protocol.TypeAuthenticateAndJoin {
		h.log.Debug("rejecting join: malformed or wrong frame type", zap.Int("slot", idx))
		h.rejectSlot(idx)
		return false
	}

	username, publicKey, err := parseJoinPayload(env.Payload)
	if err != nil {
		h.log.Debug("rejecting join", zap.Int("slot", idx), zap.Error(err))
		h.rejectSlot(idx)
		return false
	}

	h.mu.Lock()
	s.username = username
	s.publicKey = publicKey
	h.group = append(h.group, protocol.Member{Username: username, PublicKey: publicKey})

	h.log.Info("participant joined", zap.String("username", username), zap.Int("slot", idx))

	h.broadcastUserNotificationLocked(protocol.EventUserJoined, username, idx)
	h.broadcastGroupMembersListLocked()
	h.afterJoinLocked()
	h.mu.Unlock()

	return true
}

// rejectSlot closes conn and clears the slot without touching the group
// list — the participant was never admitted.
func (h *Hub) rejectSlot(idx int) {
	h.mu.Lock()
	s := h.slots[idx]
	if !s.empty() {
		s.conn.Close()
	}
	h.slots[idx] = nil
	h.mu.Unlock()
}

// disconnect tears down an authenticated slot that lost its connection:
// notify, remove from the group, abort any in-progress epoch, then
// re-settle the group (new epoch or individual key reset).
func (h *Hub) disconnect(idx int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.slots[idx]
	username := s.username

	h.log.Info("participant disconnected", zap.String("username", username), zap.Int("slot", idx))

	s.conn.Close()
	h.slots[idx] = nil

	h.broadcastUserNotificationLocked(protocol.EventUserDisconnected, username, -1)
	h.removeFromGroup(username)
	h.broadcastGroupMembersListLocked()

	soleSurvivor := -1
	if len(h.group) == 1 {
		soleSurvivor = h.indexOfUsername(h.group[0].Username)
	}
	h.afterDisconnectLocked(soleSurvivor)
}

// parseJoinPayload validates and extracts the join payload, requiring
// both username (non-empty string) and publicKey (unsigned integer) to be
// present — distinct from a present-but-zero publicKey, which is valid.
func parseJoinPayload(raw json.RawMessage) (username string, publicKey uint64, err error) {
	var fields map[string]json.RawMessage
	if jsonErr := json.Unmarshal(raw, &fields); jsonErr != nil {
		return "", 0, jsonErr
	}

	usernameRaw, ok := fields["username"]
	if !ok {
		return "", 0, errMissingField("username")
	}
	if jsonErr := json.Unmarshal(usernameRaw, &username); jsonErr != nil || username == "" {
		return "", 0, errMissingField("username")
	}

	publicKeyRaw, ok := fields["publicKey"]
	if !ok {
		return "", 0, errMissingField("publicKey")
	}
	if jsonErr := json.Unmarshal(publicKeyRaw, &publicKey); jsonErr != nil {
		return "", 0, errMissingField("publicKey")
	}

	return username, publicKey, nil
}

type missingFieldError string

func (e missingFieldError) Error() string { return "missing or invalid field: " + string(e) }

func errMissingField(field string) error { return missingFieldError(field) }
