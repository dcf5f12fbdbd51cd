package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizePayload(t *testing.T) {
	assert.Equal(t, `{"a":1}`, SanitizePayload("{\"a\":1}\u0007"))
	assert.Equal(t, `{"a":"bc"}`, SanitizePayload("{\"a\":\"b\r\nc\"}\x00"))
	assert.Equal(t, "plain", SanitizePayload("pla\u0085in\u007f"))
	assert.Equal(t, "ünïcode", SanitizePayload("ünïcode"))
}

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantNil bool
		wantErr bool
	}{
		{
			name: "double encoded with bell",
			raw:  `"{\"a\":1}\u0007"`,
			want: `{"a":1}`,
		},
		{
			name: "structured object passes through",
			raw:  ` {"a": [1, 2]} `,
			want: `{"a": [1, 2]}`,
		},
		{
			name: "structured array",
			raw:  `[{"Name":"x"}]`,
			want: `[{"Name":"x"}]`,
		},
		{
			name: "double encoded array with crlf",
			raw:  `"[1,\r\n2]"`,
			want: `[1,2]`,
		},
		{
			name:    "null",
			raw:     `null`,
			wantNil: true,
		},
		{
			name:    "empty",
			raw:     ``,
			wantNil: true,
		},
		{
			name:    "empty string",
			raw:     `"\u0000"`,
			wantNil: true,
		},
		{
			name:    "string that is not json",
			raw:     `"definitely not json"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodePayload(json.RawMessage(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrProtocolDecoding))
				assert.True(t, errors.Is(err, ErrRemote))
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestDecodePayloadEquivalentValue(t *testing.T) {
	got, err := DecodePayload(json.RawMessage(`"{\"a\":1}\u0007"`))
	require.NoError(t, err)

	var v map[string]int
	require.NoError(t, json.Unmarshal(got, &v))
	assert.Equal(t, map[string]int{"a": 1}, v)
}

func TestDecodePayloadKeepsRawTextOnFailure(t *testing.T) {
	_, err := DecodePayload(json.RawMessage(`"oops {"`))
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.True(t, remote.Decoding)
	assert.Equal(t, "oops {", remote.Message)
}

func TestUnwrapInnerException(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"object message", `{"Message":"bad creds"}`, "bad creds"},
		{"lowercase message", `{"message":"nope"}`, "nope"},
		{"nested", `{"Message":"","InnerException":{"Message":"inner"}}`, "inner"},
		{"string encoded object", `"{\"Message\":\"from string\"}\u0001"`, "from string"},
		{"plain string", `"timeout talking to source"`, "timeout talking to source"},
		{"null", `null`, ""},
		{"missing", ``, ""},
		{"object without message", `{"HResult":5}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UnwrapInnerException(json.RawMessage(tt.raw)))
		})
	}
}

func TestFailureMessage(t *testing.T) {
	assert.Equal(t, "bad creds", FailureMessage(&Result{
		Status:         StatusFailure,
		InnerException: json.RawMessage(`{"Message":"bad creds"}`),
	}))
	assert.Equal(t, "from payload", FailureMessage(&Result{
		Status:  StatusFailure,
		Payload: json.RawMessage(`{"Message":"from payload"}`),
	}))
	assert.Equal(t, "worker reported failure", FailureMessage(&Result{Status: StatusFailure}))
}
