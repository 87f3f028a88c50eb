package protocol

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Frame types, client-to-server.
const (
	TypeAuthenticateAndJoin = "C2S_AUTHENTICATE_AND_JOIN"
	TypeSendGroupMessage    = "C2S_SEND_GROUP_MESSAGE"
	TypeIntermediateValue   = "C2S_INTERMEDIATE_VALUE"
	TypeRound2Completed     = "C2S_ROUND2_COMPLETED"
)

// Frame types, server-to-client.
const (
	TypeUserNotification       = "S2C_USER_NOTIFICATION"
	TypeGroupMembersList       = "S2C_GROUP_MEMBERS_LIST"
	TypeStartKeyExchangeRound1 = "S2C_START_KEY_EXCHANGE_ROUND1"
	TypeStartKeyExchangeRound2 = "S2C_START_KEY_EXCHANGE_ROUND2"
	TypeKeyExchangeCompleted   = "S2C_KEY_EXCHANGE_COMPLETED"
	TypeIndividualKeyReset     = "S2C_INDIVIDUAL_KEY_RESET"
	TypeBroadcastGroupMessage  = "S2C_BROADCAST_GROUP_MESSAGE"
)

// User notification events.
const (
	EventUserJoined       = "USER_JOINED"
	EventUserDisconnected = "USER_DISCONNECTED"
)

// Envelope is the outer shape of every frame: a string type tag plus an
// arbitrary payload. A frame whose body is not valid JSON, or has no
// string type field, is dropped by the caller (logged, connection kept).
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode parses raw bytes into an Envelope. Errors here correspond to the
// "malformed frame" row of the error handling policy.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, errors.Wrap(err, "malformed frame")
	}
	if env.Type == "" {
		return Envelope{}, errors.New("malformed frame: missing type")
	}
	return env, nil
}

// Encode marshals typ and payload into a frame body ready for SendFrame.
func Encode(typ string, payload interface{}) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, "encode payload")
		}
		raw = b
	}
	return json.Marshal(Envelope{Type: typ, Payload: raw})
}

// DecodePayload unmarshals env's payload into dst.
func (e Envelope) DecodePayload(dst interface{}) error {
	if len(e.Payload) == 0 {
		return errors.New("missing payload")
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return errors.Wrap(err, "malformed payload")
	}
	return nil
}

// Payload shapes.

// AuthenticateAndJoinPayload is the payload of C2S_AUTHENTICATE_AND_JOIN.
type AuthenticateAndJoinPayload struct {
	Username  string `json:"username"`
	PublicKey uint64 `json:"publicKey"`
}

// SendGroupMessagePayload is the payload of C2S_SEND_GROUP_MESSAGE. Channel
// is an additive, optional routing label (see SPEC_FULL.md §4.4); the
// empty string means the single mandatory group.
type SendGroupMessagePayload struct {
	Ciphertext string `json:"ciphertext"`
	Channel    string `json:"channel,omitempty"`
}

// IntermediateValuePayload is the payload of C2S_INTERMEDIATE_VALUE.
type IntermediateValuePayload struct {
	IntermediateValue uint64 `json:"intermediateValue"`
}

// UserNotificationPayload is the payload of S2C_USER_NOTIFICATION.
type UserNotificationPayload struct {
	Event    string `json:"event"`
	Username string `json:"username"`
}

// Member is one entry of S2C_GROUP_MEMBERS_LIST, in ring order.
type Member struct {
	Username  string `json:"username"`
	PublicKey uint64 `json:"publicKey"`
}

// GroupMembersListPayload is the payload of S2C_GROUP_MEMBERS_LIST.
type GroupMembersListPayload struct {
	Members []Member `json:"members"`
}

// StartKeyExchangeRound1Payload is the payload of S2C_START_KEY_EXCHANGE_ROUND1.
type StartKeyExchangeRound1Payload struct {
	GroupSize int `json:"groupSize"`
}

// IntermediateValueEntry is one element of S2C_START_KEY_EXCHANGE_ROUND2.
type IntermediateValueEntry struct {
	Username          string `json:"username"`
	IntermediateValue uint64 `json:"intermediateValue"`
}

// StartKeyExchangeRound2Payload is the payload of S2C_START_KEY_EXCHANGE_ROUND2.
type StartKeyExchangeRound2Payload struct {
	IntermediateValues []IntermediateValueEntry `json:"intermediateValues"`
}

// IndividualKeyResetPayload is the payload of S2C_INDIVIDUAL_KEY_RESET.
type IndividualKeyResetPayload struct {
	Message string `json:"message"`
}

// BroadcastGroupMessagePayload is the payload of S2C_BROADCAST_GROUP_MESSAGE.
type BroadcastGroupMessagePayload struct {
	Sender     string `json:"sender"`
	Ciphertext string `json:"ciphertext"`
	Channel    string `json:"channel,omitempty"`
}
