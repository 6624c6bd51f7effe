package bridge

import (
	"testing"

	"github.com/glimte/rpcbridge/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockReadyHandler struct {
	mock.Mock
}

func (m *mockReadyHandler) HandleReady(env contracts.Envelope) bool {
	return m.Called(env).Bool(0)
}

type mockResponseHandler struct {
	mock.Mock
}

func (m *mockResponseHandler) HandleResponse(resp *contracts.Response) bool {
	return m.Called(resp).Bool(0)
}

func TestRouter(t *testing.T) {
	t.Run("ready signal goes to the handshake", func(t *testing.T) {
		ready := &mockReadyHandler{}
		responses := &mockResponseHandler{}
		router := NewRouter(ready, responses, discardLogger())

		env := readyEnvelope(nil, testOrigin)
		ready.On("HandleReady", env).Return(true).Once()

		router.Route(env)

		ready.AssertExpectations(t)
		responses.AssertNotCalled(t, "HandleResponse", mock.Anything)
	})

	t.Run("response goes to the table", func(t *testing.T) {
		ready := &mockReadyHandler{}
		responses := &mockResponseHandler{}
		router := NewRouter(ready, responses, discardLogger())

		responses.On("HandleResponse", mock.MatchedBy(func(r *contracts.Response) bool {
			return r.ID == "rpc_1" && r.OK && string(r.Result) == "3"
		})).Return(true).Once()

		router.Route(okEnvelope(t, "rpc_1", 3))

		responses.AssertExpectations(t)
		ready.AssertNotCalled(t, "HandleReady", mock.Anything)
	})

	t.Run("response for unknown id is dropped quietly", func(t *testing.T) {
		responses := &mockResponseHandler{}
		router := NewRouter(&mockReadyHandler{}, responses, discardLogger())

		responses.On("HandleResponse", mock.Anything).Return(false).Once()

		assert.NotPanics(t, func() {
			router.Route(errorEnvelope(t, "rpc_99", "late"))
		})
		responses.AssertExpectations(t)
	})

	foreign := map[string][]byte{
		"nil data":         nil,
		"empty data":       {},
		"plain text":       []byte("hello"),
		"json number":      []byte("42"),
		"unknown type":     []byte(`{"type":"gas-rpc-telemetry","value":1}`),
		"missing type":     []byte(`{"id":"rpc_1","ok":true}`),
		"echoed request":   []byte(`{"type":"request","id":"rpc_1","method":"echo","args":[]}`),
		"response sans id": []byte(`{"type":"response","ok":true}`),
	}

	for name, data := range foreign {
		t.Run("drops "+name, func(t *testing.T) {
			ready := &mockReadyHandler{}
			responses := &mockResponseHandler{}
			router := NewRouter(ready, responses, discardLogger())

			assert.NotPanics(t, func() {
				router.Route(contracts.Envelope{Data: data, Origin: "https://elsewhere.example"})
			})
			ready.AssertNotCalled(t, "HandleReady", mock.Anything)
			responses.AssertNotCalled(t, "HandleResponse", mock.Anything)
		})
	}
}
