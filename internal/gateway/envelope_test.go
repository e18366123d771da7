package gateway

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u64(v uint64) *uint64 { return &v }
func str(v string) *string { return &v }

func TestEnvelope_RoundTripHello(t *testing.T) {
	cases := []Envelope[HelloData]{
		{Op: OpHello, Data: HelloData{HeartbeatInterval: 41250}},
		{Op: OpHello, Data: HelloData{HeartbeatInterval: 1}, Sequence: u64(7), Type: str("HELLO")},
	}
	for _, want := range cases {
		data, err := Encode(want)
		require.NoError(t, err)

		got, err := Decode[HelloData](data)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestEnvelope_RoundTripHeartbeat(t *testing.T) {
	for _, hb := range []Heartbeat{NewHeartbeat(0), NewHeartbeat(1), NewHeartbeat(1 << 40)} {
		data, err := hb.Marshal()
		require.NoError(t, err)

		got, err := Decode[*uint64](data)
		require.NoError(t, err)
		assert.Equal(t, hb.Envelope(), got)
	}
}

func TestEnvelope_RoundTripIdentify(t *testing.T) {
	id := Identify{Data: IdentifyData{
		Token:      "secret",
		Properties: IdentifyProperties{OS: "linux", Browser: "shardgate", Device: "shardgate"},
		Shard:      [2]int{2, 5},
		Intents:    NewIntents(IntentGuilds, IntentGuildMessages, IntentMessageContent),
	}}

	data, err := id.Marshal()
	require.NoError(t, err)

	got, err := Decode[IdentifyData](data)
	require.NoError(t, err)
	assert.Equal(t, id.Envelope(), got)
}

func TestHeartbeat_WireFormat(t *testing.T) {
	data, err := NewHeartbeat(0).Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":1,"d":null,"s":null,"t":null}`, string(data))

	data, err = NewHeartbeat(251).Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":1,"d":251,"s":null,"t":null}`, string(data))
}

func TestIdentify_WireFormat(t *testing.T) {
	id := Identify{Data: IdentifyData{
		Token:      "tok",
		Properties: IdentifyProperties{OS: "linux", Browser: "b", Device: "d"},
		Shard:      [2]int{0, 1},
		Intents:    NewIntents(IntentGuilds, IntentDirectMessages),
	}}
	data, err := id.Marshal()
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"op": 2,
		"d": {
			"token": "tok",
			"properties": {"os": "linux", "browser": "b", "device": "d"},
			"shard": [0, 1],
			"intents": 4097
		},
		"s": null,
		"t": null
	}`, string(data))
}

func TestDecodeFrame(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"op":0,"d":{"id":"1"},"s":12,"t":"MESSAGE_CREATE"}`))
	require.NoError(t, err)
	assert.Equal(t, OpDispatch, f.Op)
	require.NotNil(t, f.Sequence)
	assert.Equal(t, uint64(12), *f.Sequence)
	assert.Equal(t, "MESSAGE_CREATE", f.EventName())
	assert.JSONEq(t, `{"id":"1"}`, string(f.Data))
}

func TestDecodeFrame_Malformed(t *testing.T) {
	inputs := []string{
		``,
		`not json`,
		`null`,
		`[1,2,3]`,
		`{"op":"ten"}`,
		`{"op":10,"d":`,
	}
	for _, in := range inputs {
		_, err := DecodeFrame([]byte(in))
		require.Error(t, err, "input %q", in)

		var codecErr *CodecError
		assert.True(t, errors.As(err, &codecErr), "input %q: want *CodecError, got %T", in, err)
		assert.Equal(t, "decode", codecErr.Op)
	}
}

func TestDecodePayload(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"op":10,"d":{"heartbeat_interval":40000}}`))
	require.NoError(t, err)

	hello, err := DecodePayload[HelloData](f)
	require.NoError(t, err)
	assert.Equal(t, uint64(40000), hello.HeartbeatInterval)

	_, err = DecodePayload[HelloData](Frame{Op: OpHello, Data: json.RawMessage(`"nope"`)})
	assert.Error(t, err)

	_, err = DecodePayload[HelloData](Frame{Op: OpHello})
	assert.Error(t, err)
}

func TestOpcode_String(t *testing.T) {
	assert.Equal(t, "HELLO", OpHello.String())
	assert.Equal(t, "OP_5", Opcode(5).String())
}

func TestCloseReason(t *testing.T) {
	assert.Equal(t, "authentication failed", CloseReason(CloseAuthenticationFailed))
	assert.Equal(t, "close code 1000", CloseReason(1000))
}
