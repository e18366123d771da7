package connection

import (
	"errors"
	"fmt"

	"github.com/rickgao/shardgate/internal/gateway"
)

// Errors
var (
	ErrInvalidShardCount = errors.New("shard count must be at least 1")
	ErrChannelClosed     = errors.New("shard command channel closed")
	ErrDuplicateShard    = errors.New("shard already registered")
	ErrAlreadyStarted    = errors.New("manager already started")
	ErrHandshakeTimeout  = errors.New("timed out waiting for hello")
	ErrUnexpectedOpcode  = errors.New("unexpected opcode")
	ErrInvalidHeartbeat  = errors.New("heartbeat interval must be positive")
)

// ConfigError reports invalid manager or shard configuration.
// It is returned before any connection is attempted.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ConnectError reports a failure to open the transport for a shard.
type ConnectError struct {
	Shard int
	URL   string
	Err   error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("shard %d: connect %s: %v", e.Shard, e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// HandshakeError reports a failure between connecting and becoming active.
type HandshakeError struct {
	Shard int
	State State
	Err   error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("shard %d: handshake failed in %s: %v", e.Shard, e.State, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// AuthError reports that the gateway rejected the token.
type AuthError struct {
	Shard int
	Code  int
	Err   error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("shard %d: %s (%d)", e.Shard, gateway.CloseReason(e.Code), e.Code)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
