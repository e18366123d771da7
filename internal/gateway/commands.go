package gateway

// HelloData is the payload of the first frame the gateway sends.
type HelloData struct {
	HeartbeatInterval uint64 `json:"heartbeat_interval"` // milliseconds
}

// IdentifyProperties describe the connecting client.
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// IdentifyData is the handshake payload that opens a session on one shard.
type IdentifyData struct {
	Token      string             `json:"token"`
	Properties IdentifyProperties `json:"properties"`
	Shard      [2]int             `json:"shard"` // [index, total]
	Intents    Intents            `json:"intents"`
}

// Command is an outbound message queued on a shard.
type Command interface {
	Opcode() Opcode
	Marshal() ([]byte, error)
}

// Heartbeat carries the last sequence number seen on the connection.
// A nil Sequence is sent as null, before any dispatch has been received.
type Heartbeat struct {
	Sequence *uint64
}

// NewHeartbeat builds a heartbeat for seq, treating 0 as "nothing seen yet".
func NewHeartbeat(seq uint64) Heartbeat {
	if seq == 0 {
		return Heartbeat{}
	}
	return Heartbeat{Sequence: &seq}
}

func (Heartbeat) Opcode() Opcode { return OpHeartbeat }

func (h Heartbeat) Envelope() Envelope[*uint64] {
	return Envelope[*uint64]{Op: OpHeartbeat, Data: h.Sequence}
}

func (h Heartbeat) Marshal() ([]byte, error) {
	return Encode(h.Envelope())
}

// Identify is the client handshake command.
type Identify struct {
	Data IdentifyData
}

func (Identify) Opcode() Opcode { return OpIdentify }

func (i Identify) Envelope() Envelope[IdentifyData] {
	return Envelope[IdentifyData]{Op: OpIdentify, Data: i.Data}
}

func (i Identify) Marshal() ([]byte, error) {
	return Encode(i.Envelope())
}
