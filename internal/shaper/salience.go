package shaper

import (
	"fmt"
	"sort"
	"strings"
)

// Source is the closed set of provider families EventShaper understands
// (spec §4.2: "Source is derived from provider key via a closed mapping").
type Source string

const (
	SourceEmail    Source = "email"
	SourceCalendar Source = "calendar"
	SourceCRM      Source = "crm"
)

// Record is one raw provider payload entry (a webhook "responseResults"
// member). Field names are provider-specific; the salience table is the
// only place that knows which ones matter.
type Record map[string]any

// updateRule fires a semantic event when a field-scoped condition holds
// between a record's prior and new salient snapshot.
type updateRule struct {
	eventType string
	fires     func(prior, next Record) bool
}

// providerDef is one entry of the closed per-provider salience table.
// Centralizing this (rather than scattering field lists across call
// sites) resolves spec §9's Open Question on salient-field location.
type providerDef struct {
	source        Source
	idField       string
	salientFields []string
	creationType  string
	deletionType  string // empty means this source does not emit deletions
	noise         func(Record) bool
	updateRules   []updateRule
}

// table is the single source of truth for what EventShaper considers
// meaningful. Doc() renders it for operators; Lookup drives Process.
var table = map[string]providerDef{
	"GmailEmail": {
		source:        SourceEmail,
		idField:       "id",
		salientFields: []string{"from", "subject", "inReplyTo", "labelIds"},
		creationType:  "email_received",
		deletionType:  "", // Gmail deletions are not surfaced as distinct events
		noise:         isNoreplySender,
		updateRules: []updateRule{
			{
				eventType: "email_reply_received",
				fires: func(prior, next Record) bool {
					return nonEmptyString(next["inReplyTo"]) && stringOf(prior["inReplyTo"]) != stringOf(next["inReplyTo"])
				},
			},
		},
	},
	"GoogleCalendarEvent": {
		source:        SourceCalendar,
		idField:       "id",
		salientFields: []string{"summary", "startTime", "endTime", "status", "attendees"},
		creationType:  "event_created",
		deletionType:  "", // the source's calendar provider has no reliable delete feed
		noise:         func(Record) bool { return false },
		updateRules: []updateRule{
			{
				eventType: "event_cancelled",
				fires: func(prior, next Record) bool {
					return stringOf(prior["status"]) != "cancelled" && stringOf(next["status"]) == "cancelled"
				},
			},
			{
				eventType: "event_updated",
				fires: func(prior, next Record) bool {
					return stringOf(next["status"]) != "cancelled" && salientFieldsDiffer(prior, next, []string{"summary", "startTime", "endTime", "attendees"})
				},
			},
		},
	},
	"SalesforceLead": {
		source:        SourceCRM,
		idField:       "id",
		salientFields: []string{"status", "isConverted"},
		creationType:  "lead_created",
		deletionType:  "lead_deleted",
		noise:         func(Record) bool { return false },
		updateRules: []updateRule{
			{
				eventType: "lead_converted",
				fires: func(prior, next Record) bool {
					return boolOf(prior["isConverted"]) == false && boolOf(next["isConverted"]) == true
				},
			},
			{
				eventType: "lead_stage_changed",
				fires: func(prior, next Record) bool {
					return stringOf(prior["status"]) != stringOf(next["status"])
				},
			},
		},
	},
	"SalesforceOpportunity": {
		source:        SourceCRM,
		idField:       "id",
		salientFields: []string{"stageName", "isWon", "isClosed"},
		creationType:  "opportunity_created",
		deletionType:  "opportunity_deleted",
		noise:         func(Record) bool { return false },
		updateRules: []updateRule{
			{
				eventType: "opportunity_stage_changed",
				fires: func(prior, next Record) bool {
					return stringOf(prior["stageName"]) != stringOf(next["stageName"])
				},
			},
			{
				eventType: "opportunity_closed_won",
				fires: func(prior, next Record) bool {
					return boolOf(prior["isWon"]) == false && boolOf(next["isWon"]) == true
				},
			},
		},
	},
}

// Lookup resolves a provider key to its salience definition and source.
func Lookup(providerKey string) (providerDef, bool) {
	def, ok := table[providerKey]
	return def, ok
}

// KnownProviders lists the closed set of provider keys EventShaper accepts,
// used by WebhookFront to reject unknown connections early and by Compiler
// to enumerate available event sources/types.
func KnownProviders() []string {
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Sources returns the distinct, sorted set of event sources the table
// knows about, for Compiler's system-prompt generation.
func Sources() []string {
	seen := map[string]bool{}
	for _, def := range table {
		seen[string(def.source)] = true
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ValidEventType reports whether eventType is a real (source, type) pair
// this table can emit, used by Compiler to reject hallucinated trigger
// types at compile time rather than letting Matcher silently never fire.
func ValidEventType(source, eventType string) bool {
	for _, def := range table {
		if string(def.source) != source {
			continue
		}
		if def.creationType == eventType || def.deletionType == eventType {
			return true
		}
		for _, rule := range def.updateRules {
			if rule.eventType == eventType {
				return true
			}
		}
	}
	return false
}

// EventTypes returns every creation/update/deletion event type a provider
// can emit, in a stable order, for Compiler's system-prompt generation.
func EventTypes(providerKey string) []string {
	def, ok := table[providerKey]
	if !ok {
		return nil
	}
	types := []string{def.creationType}
	for _, rule := range def.updateRules {
		types = append(types, rule.eventType)
	}
	if def.deletionType != "" {
		types = append(types, def.deletionType)
	}
	return types
}

// Doc renders the salience table as markdown, derived directly from the
// table rather than maintained by hand.
func Doc() string {
	var b strings.Builder
	b.WriteString("# EventShaper salience table\n\n")
	for _, key := range KnownProviders() {
		def := table[key]
		fmt.Fprintf(&b, "## %s (source: %s)\n\n", key, def.source)
		fmt.Fprintf(&b, "- salient fields: %s\n", strings.Join(def.salientFields, ", "))
		fmt.Fprintf(&b, "- creation event: %s\n", def.creationType)
		for _, rule := range def.updateRules {
			fmt.Fprintf(&b, "- update event: %s\n", rule.eventType)
		}
		if def.deletionType != "" {
			fmt.Fprintf(&b, "- deletion event: %s\n", def.deletionType)
		} else {
			b.WriteString("- deletion event: none (source does not emit deletions reliably)\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func salientFieldsDiffer(prior, next Record, fields []string) bool {
	for _, f := range fields {
		if stringOf(prior[f]) != stringOf(next[f]) {
			return true
		}
	}
	return false
}

func isNoreplySender(r Record) bool {
	from := strings.ToLower(stringOf(r["from"]))
	return strings.Contains(from, "noreply") || strings.Contains(from, "no-reply") || strings.Contains(from, "donotreply")
}

func stringOf(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func nonEmptyString(v any) bool {
	return stringOf(v) != ""
}

func boolOf(v any) bool {
	b, _ := v.(bool)
	return b
}
