// Package shaper implements EventShaper (spec §4.2): a rule-based,
// per-provider diff engine that turns raw webhook record deltas into a
// bounded, deduplicated stream of persisted domain Events.
package shaper

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/cortexflow/cortex/internal/errs"
	"github.com/cortexflow/cortex/internal/kv"
	"github.com/cortexflow/cortex/internal/store"
	"github.com/cortexflow/cortex/pkg/models"
)

// Config tunes EventShaper's retention and state-lifetime policy. Spec
// §9's first Open Question (raw payload retention) is resolved here as
// a configurable, off-by-default flag.
type Config struct {
	RetainRawPayload bool
	StateTTL         time.Duration
	StateMaxPerSource int
}

// defaultStateMaxPerSource bounds Records when Config.StateMaxPerSource is
// left unset, matching Config's other zero-means-default fields.
const defaultStateMaxPerSource = 50000

// Batch is one webhook delivery's worth of record deltas for a single
// provider, already split by change kind.
type Batch struct {
	ProviderKey string
	Added       []Record
	Updated     []Record
	Deleted     []Record
	Raw         json.RawMessage // only retained on the Event if Config.RetainRawPayload
}

// Shaper owns ShaperState read-modify-write and Event persistence for a
// single (userId, source) at a time; callers serialize by provider/user
// as Dispatcher's ShaperPool does.
type Shaper struct {
	store  interface {
		store.EventStore
		store.ShaperStateStore
	}
	dedup  kv.Store
	config Config
}

func New(eventStore interface {
	store.EventStore
	store.ShaperStateStore
}, dedup kv.Store, config Config) *Shaper {
	if config.StateTTL <= 0 {
		config.StateTTL = 7 * 24 * time.Hour
	}
	if config.StateMaxPerSource <= 0 {
		config.StateMaxPerSource = defaultStateMaxPerSource
	}
	return &Shaper{store: eventStore, dedup: dedup, config: config}
}

// Process runs the full algorithm of spec §4.2 for one batch and returns
// the Events it persisted (duplicates within the dedup TTL are dropped
// silently, matching spec §8 invariant 3).
func (s *Shaper) Process(ctx context.Context, userID string, batch Batch) ([]*models.Event, error) {
	def, ok := Lookup(batch.ProviderKey)
	if !ok {
		return nil, errs.Validation("shaper.process", errUnknownProvider(batch.ProviderKey))
	}

	const maxRetries = 3
	var events []*models.Event
	for attempt := 0; attempt < maxRetries; attempt++ {
		state, err := s.store.LoadShaperState(ctx, userID, string(def.source))
		if err != nil {
			return nil, err
		}
		next := state.Clone()

		events = s.diff(def, userID, next, batch)
		s.evict(&next)

		ok, err := s.store.SaveShaperState(ctx, &next, state.Version)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		// version conflict: another writer updated this (userId, source)
		// concurrently; spec §5 requires retrying the diff, not failing.
		events = nil
		if attempt == maxRetries-1 {
			return nil, errs.Conflict("shaper.process", errShaperStateContention)
		}
	}

	persisted := make([]*models.Event, 0, len(events))
	for _, ev := range batch.filterRaw(events, s.config.RetainRawPayload) {
		dup, err := s.checkDedup(ctx, ev)
		if err != nil {
			return nil, err
		}
		if dup {
			continue
		}
		outcome, err := s.store.WriteEvent(ctx, ev)
		if err != nil {
			return nil, err
		}
		if outcome == store.OutcomeCreated {
			persisted = append(persisted, ev)
		}
	}
	return persisted, nil
}

// filterRaw strips RawPayload unless retention is enabled.
func (b Batch) filterRaw(events []*models.Event, retain bool) []*models.Event {
	if retain {
		return events
	}
	for _, ev := range events {
		ev.RawPayload = nil
	}
	return events
}

// diff performs steps 1-5 of the algorithm against an already-loaded (and
// now mutable-in-place) state snapshot, returning the events to emit.
func (s *Shaper) diff(def providerDef, userID string, state models.ShaperState, batch Batch) []*models.Event {
	var events []*models.Event
	now := time.Now()

	emit := func(eventType, recordID string, salientDelta map[string]any, payload any) {
		raw, _ := json.Marshal(payload)
		delta, _ := json.Marshal(salientDelta)
		events = append(events, &models.Event{
			ID:         dedupHash(userID, string(def.source), eventType, recordID, delta),
			UserID:     userID,
			Source:     string(def.source),
			Type:       eventType,
			RecordID:   recordID,
			Payload:    raw,
			RawPayload: batch.Raw,
			DedupKey:   dedupHash(userID, string(def.source), eventType, recordID, delta),
			ReceivedAt: now,
		})
	}

	touch := func(id string) { state.LastSeen[id] = now }

	for _, record := range batch.Added {
		if def.noise(record) {
			continue
		}
		id := stringOf(record[def.idField])
		salient := extractSalient(record, def.salientFields)
		state.Records[id] = salient
		touch(id)
		emit(def.creationType, id, salient, record)
	}

	for _, record := range batch.Updated {
		id := stringOf(record[def.idField])
		salient := extractSalient(record, def.salientFields)
		prior, existed := state.Records[id]
		if !existed {
			// Edge case (spec §4.2): missing prior state means first
			// observation; treat as a creation rather than an update.
			if def.noise(record) {
				state.Records[id] = salient
				touch(id)
				continue
			}
			state.Records[id] = salient
			touch(id)
			emit(def.creationType, id, salient, record)
			continue
		}
		for _, rule := range def.updateRules {
			if rule.fires(prior, salient) {
				emit(rule.eventType, id, changedFields(prior, salient), record)
			}
		}
		state.Records[id] = salient
		touch(id)
	}

	for _, record := range batch.Deleted {
		id := stringOf(record[def.idField])
		delete(state.Records, id)
		delete(state.LastSeen, id)
		if def.deletionType != "" {
			emit(def.deletionType, id, map[string]any{"deleted": true}, record)
		}
	}

	state.UpdatedAt = now
	return events
}

// evict applies spec §4.2's state-lifetime policy to a diffed snapshot:
// records past StateTTL inactivity are dropped outright, then the
// remainder is capped to StateMaxPerSource by evicting the least
// recently touched records first.
func (s *Shaper) evict(state *models.ShaperState) {
	now := time.Now()
	for id, seen := range state.LastSeen {
		if now.Sub(seen) > s.config.StateTTL {
			delete(state.Records, id)
			delete(state.LastSeen, id)
		}
	}

	if over := len(state.Records) - s.config.StateMaxPerSource; over > 0 {
		ids := make([]string, 0, len(state.Records))
		for id := range state.Records {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			return state.LastSeen[ids[i]].Before(state.LastSeen[ids[j]])
		})
		for _, id := range ids[:over] {
			delete(state.Records, id)
			delete(state.LastSeen, id)
		}
	}
}

func extractSalient(record Record, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		out[f] = record[f]
	}
	return out
}

func changedFields(prior, next map[string]any) map[string]any {
	delta := make(map[string]any)
	for k, v := range next {
		if stringOf(prior[k]) != stringOf(v) {
			delta[k] = v
		}
	}
	return delta
}

// checkDedup reports whether ev.DedupKey was already seen within the
// dedup TTL, atomically recording it if not (spec §4.2 step 6).
func (s *Shaper) checkDedup(ctx context.Context, ev *models.Event) (bool, error) {
	created, err := s.dedup.SetNX(ctx, kv.DedupEventKey(ev.UserID+"/"+ev.DedupKey), []byte("1"), 24*time.Hour)
	if err != nil {
		return false, err
	}
	return !created, nil
}

func dedupHash(parts ...any) string {
	h := sha256.New()
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			h.Write([]byte(v))
		case []byte:
			h.Write(v)
		default:
			b, _ := json.Marshal(v)
			h.Write(b)
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
