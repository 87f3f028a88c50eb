package server

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arlc/groupchat/internal/protocol"
)

// testClient is a minimal raw test harness around one TCP connection to
// the server under test; it is not the real participant implementation
// (internal/client), just a way to drive the wire protocol directly.
type testClient struct {
	t    *testing.T
	conn net.Conn
	recv protocol.RecvBuffer
}

func dialTestClient(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(typ string, payload interface{}) {
	c.t.Helper()
	raw, err := protocol.Encode(typ, payload)
	require.NoError(c.t, err)
	require.NoError(c.t, protocol.SendFrame(c.conn, raw))
}

func (c *testClient) join(username string, publicKey uint64) {
	c.send(protocol.TypeAuthenticateAndJoin, protocol.AuthenticateAndJoinPayload{
		Username:  username,
		PublicKey: publicKey,
	})
}

func (c *testClient) recvFrame(timeout time.Duration) (protocol.Envelope, error) {
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	defer c.conn.SetReadDeadline(time.Time{})

	frame, err := c.recv.Next(c.conn)
	if err != nil {
		return protocol.Envelope{}, err
	}
	return protocol.Decode(frame)
}

// recvUntil reads frames until one with the given type is seen (returning
// it), skipping others, or fails the test on timeout.
func (c *testClient) recvUntil(typ string, timeout time.Duration) protocol.Envelope {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		env, err := c.recvFrame(time.Until(deadline))
		if err != nil {
			c.t.Fatalf("waiting for %s: %v", typ, err)
		}
		if env.Type == typ {
			return env
		}
	}
	c.t.Fatalf("timed out waiting for frame type %s", typ)
	return protocol.Envelope{}
}

func (c *testClient) close() { c.conn.Close() }

func startTestHub(t *testing.T) (*Hub, string) {
	t.Helper()
	h := NewHub(zap.NewNop())
	h.settleDelay = 10 * time.Millisecond

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go h.Serve(ln)
	t.Cleanup(h.Shutdown)

	return h, ln.Addr().String()
}

// S1 — single-member group, no epoch.
func TestScenarioSingleMemberNoEpoch(t *testing.T) {
	_, addr := startTestHub(t)
	a := dialTestClient(t, addr)
	defer a.close()

	a.join("alice", 10)

	env := a.recvUntil(protocol.TypeGroupMembersList, time.Second)
	var payload protocol.GroupMembersListPayload
	require.NoError(t, env.DecodePayload(&payload))
	assert.Len(t, payload.Members, 1)

	_, err := a.recvFrame(150 * time.Millisecond)
	assert.Error(t, err, "no round1 start should be emitted for a solo member")
}

// S2 — two-member agreement.
func TestScenarioTwoMemberAgreement(t *testing.T) {
	_, addr := startTestHub(t)
	a := dialTestClient(t, addr)
	defer a.close()
	b := dialTestClient(t, addr)
	defer b.close()

	a.join("alice", 100)
	b.join("bob", 200)

	a.recvUntil(protocol.TypeStartKeyExchangeRound1, 2*time.Second)
	b.recvUntil(protocol.TypeStartKeyExchangeRound1, 2*time.Second)

	a.send(protocol.TypeIntermediateValue, protocol.IntermediateValuePayload{IntermediateValue: 111})
	b.send(protocol.TypeIntermediateValue, protocol.IntermediateValuePayload{IntermediateValue: 222})

	round2A := a.recvUntil(protocol.TypeStartKeyExchangeRound2, 2*time.Second)
	round2B := b.recvUntil(protocol.TypeStartKeyExchangeRound2, 2*time.Second)

	var pA, pB protocol.StartKeyExchangeRound2Payload
	require.NoError(t, round2A.DecodePayload(&pA))
	require.NoError(t, round2B.DecodePayload(&pB))
	assert.ElementsMatch(t, pA.IntermediateValues, pB.IntermediateValues)

	a.send(protocol.TypeRound2Completed, nil)
	b.send(protocol.TypeRound2Completed, nil)

	a.recvUntil(protocol.TypeKeyExchangeCompleted, 2*time.Second)
	b.recvUntil(protocol.TypeKeyExchangeCompleted, 2*time.Second)
}

// S3 — three-member agreement, then leave restarts the epoch.
func TestScenarioThreeMemberThenLeave(t *testing.T) {
	_, addr := startTestHub(t)
	a := dialTestClient(t, addr)
	defer a.close()
	b := dialTestClient(t, addr)
	defer b.close()
	c := dialTestClient(t, addr)

	a.join("alice", 1)
	b.join("bob", 2)
	c.join("carol", 3)

	for _, client := range []*testClient{a, b, c} {
		client.recvUntil(protocol.TypeStartKeyExchangeRound1, 2*time.Second)
		client.send(protocol.TypeIntermediateValue, protocol.IntermediateValuePayload{IntermediateValue: 1})
	}
	for _, client := range []*testClient{a, b, c} {
		client.recvUntil(protocol.TypeStartKeyExchangeRound2, 2*time.Second)
		client.send(protocol.TypeRound2Completed, nil)
	}
	for _, client := range []*testClient{a, b, c} {
		client.recvUntil(protocol.TypeKeyExchangeCompleted, 2*time.Second)
	}

	c.close()

	for _, client := range []*testClient{a, b} {
		client.recvUntil(protocol.TypeUserNotification, 2*time.Second)
		client.recvUntil(protocol.TypeGroupMembersList, 2*time.Second)
		client.recvUntil(protocol.TypeStartKeyExchangeRound1, 2*time.Second)
	}
}

// S4 — mid-epoch disconnect does not stall the survivors.
func TestScenarioMidEpochDisconnect(t *testing.T) {
	h, addr := startTestHub(t)
	a := dialTestClient(t, addr)
	defer a.close()
	b := dialTestClient(t, addr)
	defer b.close()
	c := dialTestClient(t, addr)

	a.join("alice", 1)
	b.join("bob", 2)
	c.join("carol", 3)

	for _, client := range []*testClient{a, b, c} {
		client.recvUntil(protocol.TypeStartKeyExchangeRound1, 2*time.Second)
	}

	a.send(protocol.TypeIntermediateValue, protocol.IntermediateValuePayload{IntermediateValue: 1})
	b.send(protocol.TypeIntermediateValue, protocol.IntermediateValuePayload{IntermediateValue: 2})
	c.close() // carol never sends her round-1 contribution

	for _, client := range []*testClient{a, b} {
		client.recvUntil(protocol.TypeUserNotification, 2*time.Second)
		client.recvUntil(protocol.TypeGroupMembersList, 2*time.Second)
		client.recvUntil(protocol.TypeStartKeyExchangeRound1, 2*time.Second)
	}

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.epoch.round1Completed == 0 && h.epoch.round2Completed == 0
	}, time.Second, 10*time.Millisecond)
}

// S5 — solo survivor gets an individual key reset, no round1 start.
func TestScenarioSoloSurvivor(t *testing.T) {
	_, addr := startTestHub(t)
	a := dialTestClient(t, addr)
	defer a.close()
	b := dialTestClient(t, addr)

	a.join("alice", 1)
	b.join("bob", 2)

	a.recvUntil(protocol.TypeStartKeyExchangeRound1, 2*time.Second)

	b.close()

	a.recvUntil(protocol.TypeUserNotification, 2*time.Second)
	a.recvUntil(protocol.TypeGroupMembersList, 2*time.Second)
	a.recvUntil(protocol.TypeIndividualKeyReset, 2*time.Second)

	_, err := a.recvFrame(150 * time.Millisecond)
	assert.Error(t, err, "no round1 start should be emitted for a solo survivor")
}

// S6 — capacity: the 31st connection is rejected, existing sessions survive.
func TestScenarioCapacity(t *testing.T) {
	_, addr := startTestHub(t)

	clients := make([]*testClient, 0, MaxClients)
	for i := 0; i < MaxClients; i++ {
		c := dialTestClient(t, addr)
		c.join("user", uint64(i+1))
		c.recvUntil(protocol.TypeGroupMembersList, 2*time.Second)
		clients = append(clients, c)
	}
	defer func() {
		for _, c := range clients {
			c.close()
		}
	}()

	overflow := dialTestClient(t, addr)
	defer overflow.close()

	overflow.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, len(fullMessage)+1)
	n, err := overflow.conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, fullMessage, string(buf[:n-1])) // trailing LF
}

// S7 — malformed join is rejected without affecting the existing group.
func TestScenarioMalformedJoin(t *testing.T) {
	_, addr := startTestHub(t)
	a := dialTestClient(t, addr)
	defer a.close()
	a.join("alice", 1)
	a.recvUntil(protocol.TypeGroupMembersList, 2*time.Second)

	bad := dialTestClient(t, addr)
	raw, err := json.Marshal(map[string]interface{}{
		"type": protocol.TypeAuthenticateAndJoin,
		"payload": map[string]interface{}{
			"username": "mallory",
			// publicKey intentionally missing
		},
	})
	require.NoError(t, err)
	require.NoError(t, protocol.SendFrame(bad.conn, raw))

	buf := make([]byte, 1)
	bad.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = bad.conn.Read(buf)
	assert.Error(t, err, "connection should be closed, not sent any frame")

	_, err = a.recvFrame(150 * time.Millisecond)
	assert.Error(t, err, "no members-list broadcast should follow a rejected join")
}
