package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const streamBody = `event: message_start
data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-haiku-20241022","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":12,"output_tokens":1}}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"{\"objective\":"}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"\"ship it\"}"}}

event: content_block_stop
data: {"type":"content_block_stop","index":0}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":7}}

event: message_stop
data: {"type":"message_stop"}

`

func TestAnthropicComplete(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("request body is not JSON: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, streamBody)
	}))
	defer server.Close()

	client := anthropic.NewClient(option.WithAPIKey("test"), option.WithBaseURL(server.URL))
	completer := NewAnthropic(&client, "")

	resp, err := completer.Complete(context.Background(), Request{
		SystemPrompt: "return JSON",
		Messages:     []Message{{Role: RoleUser, Content: "summarize"}},
		MaxTokens:    256,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"objective":"ship it"}` {
		t.Errorf("Content = %q", resp.Content)
	}
	if got["model"] != DefaultAnthropicModel {
		t.Errorf("model = %v, want %s", got["model"], DefaultAnthropicModel)
	}
	if got["stream"] != true {
		t.Errorf("stream = %v, want true", got["stream"])
	}
}

func TestAnthropicCompleteError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`)
	}))
	defer server.Close()

	client := anthropic.NewClient(option.WithAPIKey("test"), option.WithBaseURL(server.URL), option.WithMaxRetries(0))
	completer := NewAnthropic(&client, "claude-test")

	if _, err := completer.Complete(context.Background(), Request{MaxTokens: 16}); err == nil {
		t.Fatal("expected error for 400 response")
	}
}

func TestScriptedCompleter(t *testing.T) {
	boom := errors.New("boom")
	s := NewScriptedCompleter(Reply{Content: "one"}, Reply{Err: boom})

	resp, err := s.Complete(context.Background(), Request{SystemPrompt: "x"})
	if err != nil || resp.Content != "one" {
		t.Fatalf("first reply = %v, %v", resp, err)
	}
	for i := 0; i < 2; i++ {
		if _, err := s.Complete(context.Background(), Request{}); !errors.Is(err, boom) {
			t.Errorf("reply %d err = %v, want boom", i+2, err)
		}
	}
	if s.Calls() != 3 {
		t.Errorf("Calls() = %d, want 3", s.Calls())
	}
}

func TestScriptedCompleterHonorsDeadline(t *testing.T) {
	s := NewScriptedCompleter(Reply{Content: "late", Delay: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.Complete(ctx, Request{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestConvertMessages(t *testing.T) {
	params := convertMessages([]Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	})
	if len(params) != 2 {
		t.Fatalf("len = %d, want 2", len(params))
	}
	if params[1].Role != anthropic.MessageParamRoleAssistant {
		t.Errorf("second role = %s", params[1].Role)
	}
	if !strings.EqualFold(string(params[0].Role), "user") {
		t.Errorf("first role = %s", params[0].Role)
	}
}
