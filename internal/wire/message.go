// Package wire implements the login request/response exchange carried on
// the first bidirectional QUIC stream (spec §6): a length-prefixed
// request/response oracle. Everything past login is out of scope.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rstunc/rstunc/internal/config"
)

// Kind distinguishes the three login-exchange message shapes.
type Kind string

const (
	KindReqLogin    Kind = "ReqLogin"
	KindRespSuccess Kind = "RespSuccess"
	KindRespFailure Kind = "RespFailure"
)

// maxMessageSize bounds the length prefix to guard against a malformed
// peer claiming an absurd body size.
const maxMessageSize = 1 << 20

// Message is the sum type sent/received during login.
type Message struct {
	Kind    Kind              `json:"kind"`
	Login   *config.LoginInfo `json:"login,omitempty"`
	Payload []byte            `json:"payload,omitempty"`
	Failure string            `json:"failure,omitempty"`
}

// ReqLogin builds a login request for the given credentials.
func ReqLogin(info config.LoginInfo) Message {
	return Message{Kind: KindReqLogin, Login: &info}
}

// RespSuccess builds a successful login response carrying an optional
// server-assigned payload.
func RespSuccess(payload []byte) Message {
	return Message{Kind: KindRespSuccess, Payload: payload}
}

// RespFailure builds a failed login response.
func RespFailure(msg string) Message {
	return Message{Kind: KindRespFailure, Failure: msg}
}

// IsRespSuccess reports whether m is a successful login response.
func (m Message) IsRespSuccess() bool {
	return m.Kind == KindRespSuccess
}

// Send writes m to w as a 4-byte big-endian length prefix followed by its
// JSON encoding.
func Send(w io.Writer, m Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	if len(body) > maxMessageSize {
		return fmt.Errorf("message too large: %d bytes", len(body))
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(body)))

	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("writing length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("writing message body: %w", err)
	}
	return nil
}

// Recv reads one length-prefixed message from r.
func Recv(r io.Reader) (Message, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return Message{}, fmt.Errorf("reading length prefix: %w", err)
	}

	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > maxMessageSize {
		return Message{}, fmt.Errorf("message too large: %d bytes", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, fmt.Errorf("reading message body: %w", err)
	}

	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, fmt.Errorf("unmarshaling message: %w", err)
	}
	return m, nil
}
