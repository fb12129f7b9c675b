// Package compiler implements the Compiler component (spec §4.3):
// translating a user's "when ... then ..." prompt into a Unit IR, or
// into a structured clarification request when the model cannot commit
// to one.
package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/cortexflow/cortex/internal/errs"
	"github.com/cortexflow/cortex/internal/llm"
	"github.com/cortexflow/cortex/internal/shaper"
	"github.com/cortexflow/cortex/pkg/models"
)

// ClarificationNeeded is returned instead of a Unit when the model
// judged the prompt too ambiguous to compile safely.
type ClarificationNeeded struct {
	Ambiguity string `json:"ambiguity"`
	Question  string `json:"question"`
}

// Compiler turns raw prompts into Units via a single low-temperature
// LLM call plus strict local validation.
type Compiler struct {
	client      llm.Client
	tools       ToolCatalog
	schema      *jsonschema.Schema
	temperature float64
	maxWait     time.Duration
	model       string
}

// Option configures a Compiler at construction time.
type Option func(*Compiler)

func WithTemperature(t float64) Option { return func(c *Compiler) { c.temperature = t } }
func WithModel(model string) Option    { return func(c *Compiler) { c.model = model } }

// New builds a Compiler. maxWait bounds the "wait" action kind; prompts
// that would require a longer wait are rejected at compile time rather
// than accepted and failed later in Runtime.
func New(client llm.Client, tools ToolCatalog, maxWait time.Duration, opts ...Option) (*Compiler, error) {
	compiled, err := jsonschema.CompileString("cortex-unit-response.json", responseSchema)
	if err != nil {
		return nil, fmt.Errorf("compile compiler response schema: %w", err)
	}
	c := &Compiler{
		client:      client,
		tools:       tools,
		schema:      compiled,
		temperature: 0.2,
		maxWait:     maxWait,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Compile runs spec §4.3's algorithm. Exactly one of (*models.Unit,
// *ClarificationNeeded) is non-nil on success.
func (c *Compiler) Compile(ctx context.Context, userID, rawPrompt string) (*models.Unit, *ClarificationNeeded, error) {
	rawPrompt = strings.TrimSpace(rawPrompt)
	if rawPrompt == "" {
		return nil, nil, errs.Validation("compiler.compile", fmt.Errorf("prompt must not be empty"))
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: c.systemPrompt()},
		{Role: llm.RoleUser, Content: rawPrompt},
	}

	raw, err := c.client.CompleteJSON(ctx, messages, json.RawMessage(responseSchema), c.temperature)
	if err != nil {
		return nil, nil, err
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, nil, errs.Internal("compiler.compile", fmt.Errorf("decode compiler response: %w", err))
	}
	if err := c.schema.Validate(decoded); err != nil {
		return nil, nil, errs.Internal("compiler.compile", fmt.Errorf("compiler response failed schema validation: %w", err))
	}

	var envelope compileResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, nil, errs.Internal("compiler.compile", fmt.Errorf("decode compiler envelope: %w", err))
	}

	if envelope.Kind == "clarification" {
		if envelope.Clarification == nil {
			return nil, nil, errs.Internal("compiler.compile", fmt.Errorf("clarification kind with no clarification body"))
		}
		return nil, envelope.Clarification, nil
	}

	if envelope.Unit == nil {
		return nil, nil, errs.Internal("compiler.compile", fmt.Errorf("unit kind with no unit body"))
	}

	unit, err := c.toModel(userID, rawPrompt, *envelope.Unit)
	if err != nil {
		return nil, nil, err
	}
	return unit, nil, nil
}

type compileResponse struct {
	Kind          string               `json:"kind"`
	Unit          *unitIR              `json:"unit,omitempty"`
	Clarification *ClarificationNeeded `json:"clarification,omitempty"`
}

type unitIR struct {
	Name       string        `json:"name"`
	Trigger    triggerIR     `json:"trigger"`
	Conditions []conditionIR `json:"conditions"`
	Actions    []actionIR    `json:"actions"`
}

type triggerIR struct {
	Source string `json:"source"`
	Type   string `json:"type"`
}

type conditionIR struct {
	Kind     string   `json:"kind"`
	Field    string   `json:"field,omitempty"`
	Operator string   `json:"operator,omitempty"`
	Value    any      `json:"value,omitempty"`
	Prompt   string   `json:"prompt,omitempty"`
	Fields   []string `json:"fields,omitempty"`
}

type actionIR struct {
	Kind            string         `json:"kind"`
	Provider        string         `json:"provider,omitempty"`
	ToolName        string         `json:"tool_name,omitempty"`
	Params          map[string]any `json:"params,omitempty"`
	ContinueOnError bool           `json:"continue_on_error,omitempty"`
}

var validOperators = map[string]bool{
	"eq": true, "neq": true, "in": true, "notIn": true, "contains": true,
	"startsWith": true, "between": true, "gt": true, "gte": true, "lt": true,
	"lte": true, "isNull": true, "isNotNull": true,
}

// toModel performs the remaining compile-time rejections that the JSON
// schema alone cannot express: unknown event types, unknown tools, and
// waits exceeding the configured maximum (spec §8 boundary behaviors).
func (c *Compiler) toModel(userID, rawPrompt string, ir unitIR) (*models.Unit, error) {
	if !shaper.ValidEventType(ir.Trigger.Source, ir.Trigger.Type) {
		return nil, errs.Validation("compiler.compile", fmt.Errorf("unknown trigger (%s, %s)", ir.Trigger.Source, ir.Trigger.Type))
	}

	conditions := make([]models.Condition, 0, len(ir.Conditions))
	for _, cond := range ir.Conditions {
		switch models.ConditionKind(cond.Kind) {
		case models.ConditionKindRule:
			if !validOperators[cond.Operator] {
				return nil, errs.Validation("compiler.compile", fmt.Errorf("unknown rule operator %q", cond.Operator))
			}
		case models.ConditionKindSemantic:
			if strings.TrimSpace(cond.Prompt) == "" {
				return nil, errs.Validation("compiler.compile", fmt.Errorf("semantic condition missing prompt"))
			}
		default:
			return nil, errs.Validation("compiler.compile", fmt.Errorf("unknown condition kind %q", cond.Kind))
		}
		conditions = append(conditions, models.Condition{
			Kind:     models.ConditionKind(cond.Kind),
			Field:    cond.Field,
			Operator: models.Operator(cond.Operator),
			Value:    cond.Value,
			Prompt:   cond.Prompt,
			Fields:   cond.Fields,
		})
	}

	actions := make([]models.Action, 0, len(ir.Actions))
	for _, act := range ir.Actions {
		switch models.ActionKind(act.Kind) {
		case models.ActionKindTool:
			if !c.tools.Has(act.Provider, act.ToolName) {
				return nil, errs.Validation("compiler.compile", fmt.Errorf("unknown tool %s/%s", act.Provider, act.ToolName))
			}
		case models.ActionKindWait:
			if err := c.validateWait(act.Params); err != nil {
				return nil, err
			}
		case models.ActionKindLLM, models.ActionKindCheck, models.ActionKindNotify, models.ActionKindNoop:
			// no additional structural constraints beyond the schema
		default:
			return nil, errs.Validation("compiler.compile", fmt.Errorf("unknown action kind %q", act.Kind))
		}
		actions = append(actions, models.Action{
			Kind:            models.ActionKind(act.Kind),
			Provider:        act.Provider,
			ToolName:        act.ToolName,
			Params:          act.Params,
			ContinueOnError: act.ContinueOnError,
		})
	}

	now := time.Now()
	return &models.Unit{
		UserID:        userID,
		Name:          ir.Name,
		RawPrompt:     rawPrompt,
		Trigger:       models.Trigger{Source: ir.Trigger.Source, Type: ir.Trigger.Type},
		Conditions:    conditions,
		Actions:       actions,
		Status:        models.UnitStatusActive,
		CompiledAt:    now,
		CompilerModel: c.model,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (c *Compiler) validateWait(params map[string]any) error {
	if c.maxWait <= 0 {
		return nil
	}
	seconds, ok := params["seconds"].(float64)
	if !ok {
		return errs.Validation("compiler.compile", fmt.Errorf("wait action missing numeric \"seconds\" param"))
	}
	if time.Duration(seconds)*time.Second > c.maxWait {
		return errs.Validation("compiler.compile", fmt.Errorf("wait of %.0fs exceeds configured maximum of %s", seconds, c.maxWait))
	}
	return nil
}

// systemPrompt enumerates sources/types, tools, action kinds, and the
// condition grammar, per spec §4.3.
func (c *Compiler) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You compile a user's automation request into a single JSON object matching the provided schema.\n\n")
	b.WriteString("Available event sources: ")
	b.WriteString(strings.Join(shaper.Sources(), ", "))
	b.WriteString("\n\nAvailable event types per provider:\n")
	for _, provider := range shaper.KnownProviders() {
		fmt.Fprintf(&b, "- %s: %s\n", provider, strings.Join(shaper.EventTypes(provider), ", "))
	}
	b.WriteString("\nAvailable tools:\n")
	for _, tool := range c.tools.Tools() {
		kind := "write"
		if tool.ReadOnly {
			kind = "read"
		}
		fmt.Fprintf(&b, "- %s/%s (%s) required=%v optional=%v: %s\n", tool.Provider, tool.Name, kind, tool.Required, tool.Optional, tool.Description)
	}
	b.WriteString("\nAvailable LLM action kinds: summarize, generate, classify, extract.\n")
	b.WriteString("Condition grammar: kind is \"rule\" or \"semantic\". Rule operators: eq, neq, in, notIn, contains, startsWith, between, gt, gte, lt, lte, isNull, isNotNull. Semantic conditions carry a free-form prompt evaluated at match time against named payload fields.\n")
	if c.maxWait > 0 {
		fmt.Fprintf(&b, "\nA \"wait\" action's \"seconds\" param must not exceed %d.\n", int(c.maxWait.Seconds()))
	}
	b.WriteString("\nIf the request is ambiguous, respond with kind=\"clarification\" and explain the ambiguity instead of guessing.\n")
	return b.String()
}
