package models

import "time"

// UnitStatus controls whether Matcher considers a Unit.
type UnitStatus string

const (
	UnitStatusActive   UnitStatus = "active"
	UnitStatusPaused   UnitStatus = "paused"
	UnitStatusDisabled UnitStatus = "disabled"
)

// ConditionKind distinguishes deterministic rule conditions from
// LLM-evaluated semantic ones.
type ConditionKind string

const (
	ConditionKindRule     ConditionKind = "rule"
	ConditionKindSemantic ConditionKind = "semantic"
)

// Operator enumerates the closed set of rule-condition operators.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNeq        Operator = "neq"
	OpIn         Operator = "in"
	OpNotIn      Operator = "notIn"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startsWith"
	OpBetween    Operator = "between"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpIsNull     Operator = "isNull"
	OpIsNotNull  Operator = "isNotNull"
)

// Trigger selects which Events a Unit is a candidate for.
type Trigger struct {
	Source string `json:"source"`
	Type   string `json:"type"`
}

// Condition is one predicate a Unit's trigger must satisfy before its
// actions run. Exactly one of (Operator/Value) or Prompt applies,
// depending on Kind.
type Condition struct {
	Kind     ConditionKind  `json:"kind"`
	Field    string         `json:"field,omitempty"`
	Operator Operator       `json:"operator,omitempty"`
	Value    any            `json:"value,omitempty"`
	Prompt   string         `json:"prompt,omitempty"`
	Fields   []string       `json:"fields,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// ActionKind enumerates the Runtime action vocabulary.
type ActionKind string

const (
	ActionKindTool   ActionKind = "tool"
	ActionKindLLM    ActionKind = "llm"
	ActionKindWait   ActionKind = "wait"
	ActionKindCheck  ActionKind = "check"
	ActionKindNotify ActionKind = "notify"
	ActionKindNoop   ActionKind = "noop"
)

// Action is one step of a Unit's action chain.
type Action struct {
	Kind            ActionKind     `json:"kind"`
	Provider        string         `json:"provider,omitempty"`
	ToolName        string         `json:"tool_name,omitempty"`
	Params          map[string]any `json:"params,omitempty"`
	ContinueOnError bool           `json:"continue_on_error,omitempty"`
}

// Unit is a compiled automation rule: "when Trigger and Conditions, then Actions".
type Unit struct {
	ID            string      `json:"id"`
	UserID        string      `json:"user_id"`
	Name          string      `json:"name"`
	RawPrompt     string      `json:"raw_prompt"`
	Trigger       Trigger     `json:"trigger"`
	Conditions    []Condition `json:"conditions"`
	Actions       []Action    `json:"actions"`
	Status        UnitStatus  `json:"status"`
	CompiledAt    time.Time   `json:"compiled_at"`
	CompilerModel string      `json:"compiler_model,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}
