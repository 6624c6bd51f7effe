package contracts

import (
	"errors"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGolden(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestWireFrames(t *testing.T) {
	g := newGolden(t)

	t.Run("request with arguments", func(t *testing.T) {
		req, err := NewRequest("rpc_1", "echo", 1, 2)
		require.NoError(t, err)

		data, err := Encode(req)
		require.NoError(t, err)
		g.Assert(t, "request_echo", data)
	})

	t.Run("request without arguments sends empty array", func(t *testing.T) {
		req, err := NewRequest("rpc_3", "slow")
		require.NoError(t, err)

		data, err := Encode(req)
		require.NoError(t, err)
		g.Assert(t, "request_no_args", data)
	})

	t.Run("ok response", func(t *testing.T) {
		resp, err := NewSuccessResponse("rpc_1", 3)
		require.NoError(t, err)

		data, err := Encode(resp)
		require.NoError(t, err)
		g.Assert(t, "response_ok", data)
	})

	t.Run("error response", func(t *testing.T) {
		data, err := Encode(NewErrorResponse("rpc_2", "boom"))
		require.NoError(t, err)
		g.Assert(t, "response_error", data)
	})

	t.Run("ready signal", func(t *testing.T) {
		data, err := Encode(NewReadySignal())
		require.NoError(t, err)
		g.Assert(t, "ready_signal", data)
	})
}

func TestNewRequest(t *testing.T) {
	t.Run("rejects missing id", func(t *testing.T) {
		_, err := NewRequest("", "echo")
		assert.Error(t, err)
	})

	t.Run("rejects missing method", func(t *testing.T) {
		_, err := NewRequest("rpc_1", "")
		assert.Error(t, err)
	})

	t.Run("reports unencodable argument", func(t *testing.T) {
		_, err := NewRequest("rpc_1", "echo", make(chan int))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "argument 0 of echo")
	})

	t.Run("keeps argument order", func(t *testing.T) {
		req, err := NewRequest("rpc_9", "save", "a", map[string]int{"b": 1}, []string{"c"})
		require.NoError(t, err)
		require.Len(t, req.Args, 3)
		assert.JSONEq(t, `"a"`, string(req.Args[0]))
		assert.JSONEq(t, `{"b":1}`, string(req.Args[1]))
		assert.JSONEq(t, `["c"]`, string(req.Args[2]))
	})
}

func TestDecode(t *testing.T) {
	t.Run("ready signal", func(t *testing.T) {
		frame, err := Decode([]byte(`{"type":"ready-signal","extra":true}`))
		require.NoError(t, err)
		assert.IsType(t, &ReadySignal{}, frame)
	})

	t.Run("ok response", func(t *testing.T) {
		frame, err := Decode([]byte(`{"type":"response","id":"rpc_1","ok":true,"result":{"total":3}}`))
		require.NoError(t, err)

		resp, ok := frame.(*Response)
		require.True(t, ok)
		assert.Equal(t, "rpc_1", resp.ID)
		assert.True(t, resp.OK)
		assert.JSONEq(t, `{"total":3}`, string(resp.Result))
	})

	t.Run("error response", func(t *testing.T) {
		frame, err := Decode([]byte(`{"type":"response","id":"rpc_2","ok":false,"error":"boom"}`))
		require.NoError(t, err)

		resp := frame.(*Response)
		assert.False(t, resp.OK)
		assert.Equal(t, "boom", resp.Error)
	})

	t.Run("request defaults args", func(t *testing.T) {
		frame, err := Decode([]byte(`{"type":"request","id":"rpc_4","method":"ping"}`))
		require.NoError(t, err)

		req := frame.(*Request)
		assert.Equal(t, "ping", req.Method)
		assert.NotNil(t, req.Args)
		assert.Empty(t, req.Args)
	})

	tests := []struct {
		name string
		data string
		want error
	}{
		{"empty payload", ``, ErrMalformedFrame},
		{"not json", `hello`, ErrMalformedFrame},
		{"json array", `[1,2,3]`, ErrMalformedFrame},
		{"unknown type", `{"type":"gas-rpc-telemetry"}`, ErrUnknownFrame},
		{"missing type", `{"id":"rpc_1"}`, ErrUnknownFrame},
		{"response without id", `{"type":"response","ok":true}`, ErrMalformedFrame},
		{"response with wrong ok type", `{"type":"response","id":"rpc_1","ok":"yes"}`, ErrMalformedFrame},
		{"request without method", `{"type":"request","id":"rpc_1"}`, ErrMalformedFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Decode([]byte(tt.data))
			assert.Nil(t, frame)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestEncodeRejectsForeignValues(t *testing.T) {
	_, err := Encode(map[string]string{"type": "request"})
	assert.ErrorIs(t, err, ErrUnknownFrame)
}

func TestOrigins(t *testing.T) {
	assert.Equal(t, "https://script.example.com", OriginOf("https://script.example.com/macros/s/abc/exec?page=bridge"))
	assert.Equal(t, "", OriginOf("not a url"))
	assert.Equal(t, "", OriginOf("/relative/path"))

	assert.True(t, OriginMatches(AnyOrigin, "https://a.example"))
	assert.True(t, OriginMatches("", "https://a.example"))
	assert.True(t, OriginMatches("https://a.example", "https://a.example"))
	assert.False(t, OriginMatches("https://b.example", "https://a.example"))

	err := error(&OriginError{Want: "https://b.example", Have: "https://a.example"})
	assert.ErrorIs(t, err, ErrOriginMismatch)
}
