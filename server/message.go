package server

import (
	"encoding/json"

	"github.com/alimasry/go-oplog/ot"
)

// Message types exchanged over WebSocket.
const (
	MsgJoin     = "join"
	MsgLeave    = "leave"
	MsgOp       = "op"
	MsgAck      = "ack"
	MsgDoc      = "doc"
	MsgVerify   = "verify"
	MsgVerified = "verified"
	MsgError    = "error"
)

// ClientMessage is a message from client to server.
// Ops holds the raw operation list so it can be decoded leniently.
type ClientMessage struct {
	Type   string          `json:"type"`
	DocID  string          `json:"docId,omitempty"`
	Ops    json.RawMessage `json:"ops,omitempty"`
	Stale  string          `json:"stale,omitempty"`
	Latest string          `json:"latest,omitempty"`
}

// ServerMessage is a message from server to client.
type ServerMessage struct {
	Type     string         `json:"type"`
	DocID    string         `json:"docId,omitempty"`
	Content  string         `json:"content"`
	Pos      int            `json:"pos"`
	Revision int            `json:"revision"`
	Ops      []ot.Operation `json:"ops,omitempty"`
	OK       bool           `json:"ok,omitempty"`
	ClientID string         `json:"clientId,omitempty"`
	Name     string         `json:"name,omitempty"`
	Color    string         `json:"color,omitempty"`
	Message  string         `json:"message,omitempty"`
	Clients  []ClientInfo   `json:"clients,omitempty"`
}

// ClientInfo describes a connected user.
type ClientInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Encode serializes a ServerMessage to JSON bytes.
func (m ServerMessage) Encode() []byte {
	b, _ := json.Marshal(m)
	return b
}
