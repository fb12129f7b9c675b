package compiler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cortexflow/cortex/internal/llm"
	"github.com/cortexflow/cortex/pkg/models"
)

type fakeLLMClient struct {
	response json.RawMessage
	err      error
}

func (f *fakeLLMClient) Complete(ctx context.Context, messages []llm.Message, temperature float64) (string, error) {
	return string(f.response), f.err
}

func (f *fakeLLMClient) CompleteJSON(ctx context.Context, messages []llm.Message, schema json.RawMessage, temperature float64) (json.RawMessage, error) {
	return f.response, f.err
}

func testCatalog() ToolCatalog {
	return NewStaticCatalog([]ToolSpec{
		{Provider: "slack", Name: "send_message", Required: []string{"channel", "text"}, ReadOnly: false},
	})
}

func TestCompileProducesUnitFromValidResponse(t *testing.T) {
	response := `{
		"kind": "unit",
		"unit": {
			"name": "notify on manager email",
			"trigger": {"source": "email", "type": "email_received"},
			"conditions": [
				{"kind": "rule", "field": "from", "operator": "eq", "value": "manager@acme.com"}
			],
			"actions": [
				{"kind": "notify", "provider": "slack", "params": {"channel": "#alerts"}}
			]
		}
	}`
	client := &fakeLLMClient{response: json.RawMessage(response)}
	c, err := New(client, testCatalog(), 15*time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	unit, clarification, err := c.Compile(context.Background(), "user1", "when I get an email from manager@acme.com then notify me")
	if err != nil {
		t.Fatal(err)
	}
	if clarification != nil {
		t.Fatalf("unexpected clarification: %+v", clarification)
	}
	if unit.Trigger.Source != "email" || unit.Trigger.Type != "email_received" {
		t.Fatalf("unit trigger = %+v", unit.Trigger)
	}
	if unit.Status != models.UnitStatusActive {
		t.Fatalf("unit status = %v, want active", unit.Status)
	}
}

func TestCompileReturnsClarificationWhenModelAsksForIt(t *testing.T) {
	response := `{"kind": "clarification", "clarification": {"ambiguity": "which channel", "question": "which Slack channel should I notify?"}}`
	client := &fakeLLMClient{response: json.RawMessage(response)}
	c, err := New(client, testCatalog(), 15*time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	unit, clarification, err := c.Compile(context.Background(), "user1", "notify me about stuff")
	if err != nil {
		t.Fatal(err)
	}
	if unit != nil {
		t.Fatalf("unexpected unit: %+v", unit)
	}
	if clarification == nil || clarification.Question == "" {
		t.Fatalf("expected a clarification question, got %+v", clarification)
	}
}

func TestCompileRejectsUnknownTriggerType(t *testing.T) {
	response := `{
		"kind": "unit",
		"unit": {
			"name": "bogus",
			"trigger": {"source": "email", "type": "email_teleported"},
			"conditions": [],
			"actions": [{"kind": "noop"}]
		}
	}`
	client := &fakeLLMClient{response: json.RawMessage(response)}
	c, err := New(client, testCatalog(), 15*time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = c.Compile(context.Background(), "user1", "when something unknown happens then do nothing")
	if err == nil {
		t.Fatal("expected a compile-time rejection for an unknown trigger type")
	}
}

func TestCompileRejectsUnknownTool(t *testing.T) {
	response := `{
		"kind": "unit",
		"unit": {
			"name": "bad tool",
			"trigger": {"source": "email", "type": "email_received"},
			"conditions": [],
			"actions": [{"kind": "tool", "provider": "slack", "tool_name": "delete_workspace"}]
		}
	}`
	client := &fakeLLMClient{response: json.RawMessage(response)}
	c, err := New(client, testCatalog(), 15*time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = c.Compile(context.Background(), "user1", "when I get an email then delete the workspace")
	if err == nil {
		t.Fatal("expected a compile-time rejection for an unknown tool")
	}
}

func TestCompileRejectsWaitExceedingMaximum(t *testing.T) {
	response := `{
		"kind": "unit",
		"unit": {
			"name": "long wait",
			"trigger": {"source": "email", "type": "email_received"},
			"conditions": [],
			"actions": [{"kind": "wait", "params": {"seconds": 7200}}]
		}
	}`
	client := &fakeLLMClient{response: json.RawMessage(response)}
	c, err := New(client, testCatalog(), 15*time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = c.Compile(context.Background(), "user1", "when I get an email then wait two hours")
	if err == nil {
		t.Fatal("expected a compile-time rejection for a wait exceeding the configured maximum")
	}
}

func TestCompileRejectsEmptyPrompt(t *testing.T) {
	c, err := New(&fakeLLMClient{}, testCatalog(), 15*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.Compile(context.Background(), "user1", "   "); err == nil {
		t.Fatal("expected an error for an empty prompt")
	}
}
