package model

import (
	"context"
	"errors"
	"testing"
)

func TestMockChatModel(t *testing.T) {
	ctx := context.Background()
	msgs := []Message{{Role: RoleUser, Content: "hi"}}

	t.Run("responses in order then repeat last", func(t *testing.T) {
		m := &MockChatModel{Responses: []ChatOut{{Text: "one"}, {Text: "two"}}}
		for _, want := range []string{"one", "two", "two"} {
			out, err := m.Chat(ctx, msgs, nil)
			if err != nil {
				t.Fatal(err)
			}
			if out.Text != want {
				t.Errorf("Chat() = %q, want %q", out.Text, want)
			}
		}
		if m.CallCount() != 3 {
			t.Errorf("CallCount() = %d, want 3", m.CallCount())
		}
	})

	t.Run("scripted errors", func(t *testing.T) {
		boom := errors.New("quota")
		m := &MockChatModel{Errs: []error{boom, nil}, Responses: []ChatOut{{Text: "a"}, {Text: "b"}}}

		if _, err := m.Chat(ctx, msgs, nil); !errors.Is(err, boom) {
			t.Errorf("first call error = %v, want %v", err, boom)
		}
		out, err := m.Chat(ctx, msgs, nil)
		if err != nil || out.Text != "b" {
			t.Errorf("second call = %q, %v; want b", out.Text, err)
		}
	})

	t.Run("records calls and resets", func(t *testing.T) {
		m := &MockChatModel{}
		tools := []ToolSpec{{Name: "http_request"}}
		_, _ = m.Chat(ctx, msgs, tools)

		if got := m.Calls[0]; got.Messages[0].Content != "hi" || got.Tools[0].Name != "http_request" {
			t.Errorf("recorded call = %+v", got)
		}
		m.Reset()
		if m.CallCount() != 0 {
			t.Error("Reset() kept call history")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		m := &MockChatModel{Responses: []ChatOut{{Text: "x"}}}
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := m.Chat(cctx, msgs, nil); !errors.Is(err, context.Canceled) {
			t.Errorf("Chat() error = %v, want context.Canceled", err)
		}
		if m.CallCount() != 0 {
			t.Error("cancelled call was recorded")
		}
	})
}

func TestUsageTotal(t *testing.T) {
	if got := (Usage{InputTokens: 12, OutputTokens: 30}).Total(); got != 42 {
		t.Errorf("Total() = %d, want 42", got)
	}
}
