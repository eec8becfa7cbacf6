package model

import (
	"context"
	"sync"
)

// MockChatModel is a scripted ChatModel for tests.
//
//	mock := &MockChatModel{Responses: []ChatOut{{Text: "first"}, {Text: "second"}}}
//
// Each Chat call returns the next response; the last one repeats once the
// script is exhausted. Errs, when set, is consumed the same way and takes
// precedence over Responses for the matching call.
type MockChatModel struct {
	Responses []ChatOut

	// Err is returned by every call when set.
	Err error

	// Errs scripts per-call errors; a nil entry lets that call succeed.
	Errs []error

	Calls []MockChatCall

	mu        sync.Mutex
	callIndex int
}

// MockChatCall records one Chat invocation.
type MockChatCall struct {
	Messages []Message
	Tools    []ToolSpec
}

// Chat implements ChatModel.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if ctx.Err() != nil {
		return ChatOut{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockChatCall{Messages: messages, Tools: tools})
	call := m.callIndex
	m.callIndex++

	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if call < len(m.Errs) && m.Errs[call] != nil {
		return ChatOut{}, m.Errs[call]
	}
	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}
	if call >= len(m.Responses) {
		call = len(m.Responses) - 1
	}
	return m.Responses[call], nil
}

// Reset clears the call history and rewinds the script.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of Chat calls so far.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Calls)
}
