// Package client implements the protocol participant: the counterpart
// state machine that performs its share of the Burmester-Desmedt key
// exchange, and encrypts/decrypts group chat traffic.
package client

import (
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/arlc/groupchat/internal/crypto"
	"github.com/arlc/groupchat/internal/protocol"
)

// Participant holds one connected session's full local state. Its private
// key is exclusive to this process and is never serialized or sent on
// the wire.
type Participant struct {
	conn net.Conn
	ui   UI
	log  *zap.Logger

	username   string
	privateKey uint64
	publicKey  uint64

	recv protocol.RecvBuffer

	mu           sync.Mutex
	members      []protocol.Member // most recent ordered list from the server
	sharedSecret uint64
	established  bool
	connected    bool
}

// New creates a Participant over an already-dialed connection, generating
// a fresh private/public key pair.
func New(conn net.Conn, ui UI, log *zap.Logger) (*Participant, error) {
	priv, err := crypto.GenPrivate()
	if err != nil {
		return nil, err
	}

	return &Participant{
		conn:       conn,
		ui:         ui,
		log:        log,
		privateKey: priv,
		publicKey:  crypto.GenPublic(priv),
		connected:  true,
	}, nil
}

// PublicKey returns this participant's public key, safe to publish.
func (p *Participant) PublicKey() uint64 { return p.publicKey }

// Join sends the authenticate-and-join handshake frame for username.
func (p *Participant) Join(username string) error {
	p.username = username
	raw, err := protocol.Encode(protocol.TypeAuthenticateAndJoin, protocol.AuthenticateAndJoinPayload{
		Username:  username,
		PublicKey: p.publicKey,
	})
	if err != nil {
		return err
	}
	return protocol.SendFrame(p.conn, raw)
}

// Run starts the reader goroutine and runs the writer loop (UI reads) in
// the calling goroutine until the UI input stream ends or the connection
// is lost. It returns once both activities have wound down.
func (p *Participant) Run() {
	readerDone := make(chan struct{})
	go func() {
		p.readLoop()
		close(readerDone)
	}()
	p.writeLoop()
	<-readerDone
}

// isConnected reports whether the session is still considered live.
func (p *Participant) isConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *Participant) setDisconnected() {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
}

// writeLoop reads lines from the UI and emits group messages until the UI
// input stream ends or the connection drops.
func (p *Participant) writeLoop() {
	for p.isConnected() {
		line, err := p.ui.ReadLine()
		if err != nil {
			break
		}
		if !p.isConnected() {
			break
		}
		p.sendMessage(line)
	}
	p.conn.Close()
}

func (p *Participant) sendMessage(line string) {
	if line == "" {
		return
	}
	p.ui.Append("You", line, SeverityInfo)

	p.mu.Lock()
	secret, established := p.sharedSecret, p.established
	p.mu.Unlock()

	if !established {
		p.ui.Append("system", "no shared secret established yet; message not sent", SeverityWarn)
		return
	}

	ciphertext, err := crypto.Encrypt(line, secret)
	if err != nil {
		p.ui.Append("system", "failed to encrypt message", SeverityWarn)
		return
	}

	raw, err := protocol.Encode(protocol.TypeSendGroupMessage, protocol.SendGroupMessagePayload{
		Ciphertext: ciphertext,
	})
	if err != nil {
		p.log.Error("encode group message", zap.Error(err))
		return
	}
	if err := protocol.SendFrame(p.conn, raw); err != nil {
		p.ui.Append("system", "failed to send message", SeverityWarn)
		p.setDisconnected()
	}
}

// readLoop consumes frames from the server and dispatches by type until
// the connection closes.
func (p *Participant) readLoop() {
	for {
		frame, err := p.recv.Next(p.conn)
		if err != nil {
			p.ui.Append("system", "server disconnected", SeverityWarn)
			p.ui.Status("Disconnected. Press any key to exit.")
			p.setDisconnected()
			return
		}

		env, err := protocol.Decode(frame)
		if err != nil {
			p.ui.Debug("malformed frame: " + err.Error())
			continue
		}

		p.dispatch(env)
	}
}

func (p *Participant) dispatch(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeUserNotification:
		p.handleUserNotification(env)
	case protocol.TypeGroupMembersList:
		p.handleGroupMembersList(env)
	case protocol.TypeStartKeyExchangeRound1:
		p.handleStartRound1()
	case protocol.TypeStartKeyExchangeRound2:
		p.handleStartRound2(env)
	case protocol.TypeKeyExchangeCompleted:
		p.handleKeyExchangeCompleted()
	case protocol.TypeIndividualKeyReset:
		p.handleIndividualKeyReset(env)
	case protocol.TypeBroadcastGroupMessage:
		p.handleBroadcastGroupMessage(env)
	default:
		p.ui.Debug("unhandled frame type: " + env.Type)
	}
}

func (p *Participant) handleUserNotification(env protocol.Envelope) {
	var payload protocol.UserNotificationPayload
	if err := env.DecodePayload(&payload); err != nil {
		p.ui.Debug("malformed user notification: " + err.Error())
		return
	}

	switch payload.Event {
	case protocol.EventUserJoined:
		p.ui.Append("system", payload.Username+" has joined!", SeverityInfo)
	case protocol.EventUserDisconnected:
		p.ui.Append("system", payload.Username+" has left the chat.", SeverityInfo)
	default:
		p.ui.Debug("unknown notification event: " + payload.Event)
	}
}

// handleGroupMembersList replaces the local ordered members list. It does
// not itself start round 1 — that only happens on an explicit server
// directive.
func (p *Participant) handleGroupMembersList(env protocol.Envelope) {
	var payload protocol.GroupMembersListPayload
	if err := env.DecodePayload(&payload); err != nil {
		p.ui.Debug("malformed members list: " + err.Error())
		return
	}

	p.mu.Lock()
	p.members = payload.Members
	p.mu.Unlock()

	p.ui.Append("system", "group members updated", SeverityInfo)
}

func (p *Participant) handleStartRound1() {
	p.mu.Lock()
	members := p.members
	p.mu.Unlock()

	myIndex := indexOfUsername(members, p.username)
	if myIndex < 0 {
		p.ui.Debug("round1 start received but self not found in members list")
		return
	}

	n := len(members)
	before := members[(myIndex-1+n)%n].PublicKey
	after := members[(myIndex+1)%n].PublicKey

	value := crypto.IntermediateValue(p.privateKey, before, after)

	raw, err := protocol.Encode(protocol.TypeIntermediateValue, protocol.IntermediateValuePayload{
		IntermediateValue: value,
	})
	if err != nil {
		p.log.Error("encode intermediate value", zap.Error(err))
		return
	}
	if err := protocol.SendFrame(p.conn, raw); err != nil {
		p.ui.Append("system", "failed to send intermediate value", SeverityWarn)
		return
	}
	p.ui.Append("system", "intermediate value sent", SeverityInfo)
}

// handleStartRound2 reconstructs the ordered intermediate-value vector by
// aligning on username against the locally stored members list, not on
// the order the server happens to list them in, computes the shared
// secret, and confirms completion.
func (p *Participant) handleStartRound2(env protocol.Envelope) {
	var payload protocol.StartKeyExchangeRound2Payload
	if err := env.DecodePayload(&payload); err != nil {
		p.ui.Debug("malformed round2 start: " + err.Error())
		return
	}

	p.mu.Lock()
	members := p.members
	p.mu.Unlock()

	n := len(members)
	myIndex := indexOfUsername(members, p.username)
	if myIndex < 0 {
		p.ui.Debug("round2 start received but self not found in members list")
		return
	}

	publicKeys := make([]uint64, n)
	for i, m := range members {
		publicKeys[i] = m.PublicKey
	}

	intermediate := make([]uint64, n)
	for _, entry := range payload.IntermediateValues {
		idx := indexOfUsername(members, entry.Username)
		if idx < 0 {
			continue
		}
		intermediate[idx] = entry.IntermediateValue
	}

	secret, err := crypto.SharedSecret(p.privateKey, myIndex, publicKeys, intermediate)
	if err != nil {
		p.ui.Debug("shared secret computation failed: " + err.Error())
		return
	}

	p.mu.Lock()
	p.sharedSecret = secret
	p.mu.Unlock()

	p.ui.Append("system", "shared secret calculated", SeverityInfo)

	raw, err := protocol.Encode(protocol.TypeRound2Completed, nil)
	if err != nil {
		p.log.Error("encode round2 completed", zap.Error(err))
		return
	}
	if err := protocol.SendFrame(p.conn, raw); err != nil {
		p.ui.Append("system", "failed to confirm round 2 completion", SeverityWarn)
	}
}

func (p *Participant) handleKeyExchangeCompleted() {
	p.mu.Lock()
	p.established = true
	p.mu.Unlock()
	p.ui.Append("system", "group key exchange completed successfully!", SeverityInfo)
}

// handleIndividualKeyReset adopts a fresh value as the active (trivial)
// shared secret, used to encrypt the sole participant's own monologue
// until the next epoch. Private and public keys are left unchanged.
func (p *Participant) handleIndividualKeyReset(env protocol.Envelope) {
	var payload protocol.IndividualKeyResetPayload
	if err := env.DecodePayload(&payload); err != nil {
		p.ui.Debug("malformed individual key reset: " + err.Error())
		return
	}
	p.ui.Append("system", payload.Message, SeverityWarn)

	newSecret, err := crypto.GenPrivate()
	if err != nil {
		p.ui.Debug("failed to generate individual key: " + err.Error())
		return
	}

	p.mu.Lock()
	p.sharedSecret = newSecret
	p.established = true
	p.mu.Unlock()
}

func (p *Participant) handleBroadcastGroupMessage(env protocol.Envelope) {
	var payload protocol.BroadcastGroupMessagePayload
	if err := env.DecodePayload(&payload); err != nil {
		p.ui.Debug("malformed broadcast message: " + err.Error())
		return
	}

	p.mu.Lock()
	secret, established := p.sharedSecret, p.established
	p.mu.Unlock()

	if !established {
		p.ui.Append("system", "received message before key exchange completed", SeverityWarn)
		return
	}

	plaintext, err := crypto.Decrypt(payload.Ciphertext, secret)
	if err != nil {
		p.ui.Append("system", "decryption failed for message from "+payload.Sender, SeverityWarn)
		return
	}

	p.ui.Append(payload.Sender, plaintext, SeverityInfo)
}

func indexOfUsername(members []protocol.Member, username string) int {
	for i, m := range members {
		if m.Username == username {
			return i
		}
	}
	return -1
}
