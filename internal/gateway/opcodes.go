package gateway

import "strconv"

// Opcode is the envelope discriminant.
type Opcode uint8

const (
	OpDispatch            Opcode = 0  // receive
	OpHeartbeat           Opcode = 1  // send/receive
	OpIdentify            Opcode = 2  // send
	OpPresenceUpdate      Opcode = 3  // send
	OpVoiceStateUpdate    Opcode = 4  // send
	OpResume              Opcode = 6  // send
	OpReconnect           Opcode = 7  // receive
	OpRequestGuildMembers Opcode = 8  // send
	OpInvalidSession      Opcode = 9  // receive
	OpHello               Opcode = 10 // receive
	OpHeartbeatACK        Opcode = 11 // receive
)

var opcodeNames = map[Opcode]string{
	OpDispatch:            "DISPATCH",
	OpHeartbeat:           "HEARTBEAT",
	OpIdentify:            "IDENTIFY",
	OpPresenceUpdate:      "PRESENCE_UPDATE",
	OpVoiceStateUpdate:    "VOICE_STATE_UPDATE",
	OpResume:              "RESUME",
	OpReconnect:           "RECONNECT",
	OpRequestGuildMembers: "REQUEST_GUILD_MEMBERS",
	OpInvalidSession:      "INVALID_SESSION",
	OpHello:               "HELLO",
	OpHeartbeatACK:        "HEARTBEAT_ACK",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return "OP_" + strconv.Itoa(int(o))
}

// Close codes the gateway sends when it terminates a session.
const (
	CloseUnknownError         = 4000
	CloseUnknownOpcode        = 4001
	CloseDecodeError          = 4002
	CloseNotAuthenticated     = 4003
	CloseAuthenticationFailed = 4004
	CloseAlreadyAuthenticated = 4005
	CloseInvalidSeq           = 4007
	CloseRateLimited          = 4008
	CloseSessionTimedOut      = 4009
	CloseInvalidShard         = 4010
	CloseShardingRequired     = 4011
	CloseInvalidAPIVersion    = 4012
	CloseInvalidIntents       = 4013
	CloseDisallowedIntents    = 4014
)

var closeReasons = map[int]string{
	CloseUnknownError:         "unknown error",
	CloseUnknownOpcode:        "unknown opcode",
	CloseDecodeError:          "decode error",
	CloseNotAuthenticated:     "not authenticated",
	CloseAuthenticationFailed: "authentication failed",
	CloseAlreadyAuthenticated: "already authenticated",
	CloseInvalidSeq:           "invalid sequence",
	CloseRateLimited:          "rate limited",
	CloseSessionTimedOut:      "session timed out",
	CloseInvalidShard:         "invalid shard",
	CloseShardingRequired:     "sharding required",
	CloseInvalidAPIVersion:    "invalid api version",
	CloseInvalidIntents:       "invalid intents",
	CloseDisallowedIntents:    "disallowed intents",
}

// CloseReason returns a human readable description of a gateway close code.
func CloseReason(code int) string {
	if reason, ok := closeReasons[code]; ok {
		return reason
	}
	return "close code " + strconv.Itoa(code)
}
