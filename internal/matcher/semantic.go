package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cortexflow/cortex/internal/kv"
	"github.com/cortexflow/cortex/internal/llm"
	"github.com/cortexflow/cortex/pkg/models"
)

const semanticBooleanSchema = `{"type":"object","additionalProperties":false,"required":["result"],"properties":{"result":{"type":"boolean"}}}`

// evaluateSemantic invokes LLMClient with a templated prompt carrying the
// payload subset named by cond.Fields plus the condition's own prompt,
// requiring a boolean-schema response (spec §4.3). Results are cached by
// hash(unitId, conditionIndex, event.dedupKey) with a short TTL, since
// the same Event is matched against the same Unit/condition at most
// once in practice but retries must stay cheap.
func (m *Matcher) evaluateSemantic(ctx context.Context, unit *models.Unit, condIndex int, cond models.Condition, event *models.Event, payload map[string]any) (bool, error) {
	cacheKey := kv.SemanticConditionKey(unit.ID + "/" + strconv.Itoa(condIndex) + "/" + event.DedupKey)
	if cached, ok, err := m.semanticCache.Get(ctx, cacheKey); err == nil && ok {
		return string(cached) == "true", nil
	}

	subset := make(map[string]any, len(cond.Fields))
	for _, f := range cond.Fields {
		subset[f] = fieldValue(payload, f)
	}
	subsetJSON, err := json.Marshal(subset)
	if err != nil {
		return false, fmt.Errorf("matcher: marshal semantic condition fields: %w", err)
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: "Answer strictly with a JSON object {\"result\": true|false}."},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Condition: %s\n\nRelevant event fields: %s", cond.Prompt, string(subsetJSON))},
	}

	raw, err := m.llmClient.CompleteJSON(ctx, messages, []byte(semanticBooleanSchema), 0.0)
	if err != nil {
		return false, err
	}

	var decoded struct {
		Result bool `json:"result"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return false, fmt.Errorf("matcher: decode semantic condition response: %w", err)
	}

	value := "false"
	if decoded.Result {
		value = "true"
	}
	_ = m.semanticCache.Set(ctx, cacheKey, []byte(value), 5*time.Minute)
	return decoded.Result, nil
}
