package chaincode

import (
	"github.com/golang/protobuf/ptypes/timestamp"
	"github.com/hyperledger/fabric-chaincode-go/pkg/cid"
	"github.com/hyperledger/fabric-chaincode-go/shim"
)

// mockStub is an in-memory world state covering the subset of the shim the
// contract uses. Anything else panics via the embedded nil interface.
type mockStub struct {
	shim.ChaincodeStubInterface
	state  map[string][]byte
	events []mockEvent
	now    int64
}

type mockEvent struct {
	name    string
	payload []byte
}

func newMockStub() *mockStub {
	return &mockStub{state: make(map[string][]byte), now: 1700000000}
}

func (s *mockStub) GetState(key string) ([]byte, error) {
	v, ok := s.state[key]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (s *mockStub) PutState(key string, value []byte) error {
	s.state[key] = value
	return nil
}

func (s *mockStub) DelState(key string) error {
	delete(s.state, key)
	return nil
}

func (s *mockStub) GetTxID() string { return "mock-tx" }

func (s *mockStub) GetTxTimestamp() (*timestamp.Timestamp, error) {
	return &timestamp.Timestamp{Seconds: s.now}, nil
}

func (s *mockStub) SetEvent(name string, payload []byte) error {
	s.events = append(s.events, mockEvent{name: name, payload: payload})
	return nil
}

// snapshot copies the state for before/after comparisons.
func (s *mockStub) snapshot() map[string]string {
	out := make(map[string]string, len(s.state))
	for k, v := range s.state {
		out[k] = string(v)
	}
	return out
}

type mockIdentity struct {
	cid.ClientIdentity
	id string
}

func (m *mockIdentity) GetID() (string, error) { return m.id, nil }

type mockContext struct {
	stub   *mockStub
	caller *mockIdentity
}

func (c *mockContext) GetStub() shim.ChaincodeStubInterface { return c.stub }

func (c *mockContext) GetClientIdentity() cid.ClientIdentity { return c.caller }

func callerCtx(stub *mockStub, id string) *mockContext {
	return &mockContext{stub: stub, caller: &mockIdentity{id: id}}
}
