package config

import "fmt"

// LoginInfo is the payload of a login request: the shared password and the
// TunnelConfig the peer should associate with this connection.
type LoginInfo struct {
	Password     string       `json:"password"`
	TunnelConfig TunnelConfig `json:"tunnel_config"`
}

// FormatWithRemoteAddr renders a LoginInfo for log lines the way the
// client's login/retry code identifies a tunnel without leaking the
// password.
func (l LoginInfo) FormatWithRemoteAddr(remoteAddr fmt.Stringer) string {
	return fmt.Sprintf("%s(%s)->%s", l.TunnelConfig.Mode, l.TunnelConfig.LocalServerAddr, remoteAddr)
}
