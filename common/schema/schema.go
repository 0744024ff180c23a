// Package schema implements the ingestion contract for behavioral
// interaction events. Validate is a pure function: the same payload
// always yields the same verdict, and no state is touched. Callers get
// the complete list of violations in one pass so a client can fix every
// problem in a single round trip.
package schema

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/driftline-systems/driftline-stack/common/models"
)

// Error codes attached to FieldError.Code.
const (
	CodeMalformed = "malformed_payload"
	CodeMissing   = "missing_required_field"
	CodeType      = "invalid_type"
	CodeLength    = "max_length_exceeded"
	CodeFormat    = "invalid_format"
	CodeMetadata  = "invalid_metadata"
)

// FieldError describes one contract violation.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the verdict for one payload. Event is non-nil only when
// Errors is empty. Warnings never block ingestion.
type Result struct {
	Event    *models.Event `json:"-"`
	Errors   []FieldError  `json:"errors,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
}

// Valid reports whether the payload passed validation.
func (r Result) Valid() bool { return len(r.Errors) == 0 }

// timestampPattern is the only accepted client timestamp shape:
// ISO-8601 UTC with optional milliseconds, e.g. 2024-12-31T10:00:00Z.
var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d{1,3})?Z$`)

// Recommended value sets. Values outside these produce warnings, never
// errors - the schema stays open to new channels without code changes.
var (
	recommendedChannels = map[string]bool{
		"web":        true,
		"mobile":     true,
		"chat":       true,
		"speech":     true,
		"agent":      true,
		"gpt_action": true,
	}
	recommendedCategories = map[string]bool{
		"user_action":  true,
		"system":       true,
		"navigation":   true,
		"error":        true,
		"conversation": true,
		"voice":        true,
	}
)

type stringSpec struct {
	name     string
	maxLen   int // 0 means unbounded
	required bool
	assign   func(e *models.Event, v string)
}

// stringSpecs is evaluated in declaration order so error lists are
// deterministic for identical payloads.
var stringSpecs = []stringSpec{
	{"channel", 50, true, func(e *models.Event, v string) { e.Channel = v }},
	{"event_type", 100, true, func(e *models.Event, v string) { e.EventType = v }},
	{"session_id", 100, true, func(e *models.Event, v string) { e.SessionID = v }},
	{"platform", 100, false, func(e *models.Event, v string) { e.Platform = v }},
	{"event_category", 100, false, func(e *models.Event, v string) { e.EventCategory = v }},
	{"resource_id", 100, false, func(e *models.Event, v string) { e.ResourceID = v }},
	{"resource_title", 255, false, func(e *models.Event, v string) { e.ResourceTitle = v }},
	{"interaction_target", 255, false, func(e *models.Event, v string) { e.InteractionTarget = v }},
	{"user_id", 100, false, func(e *models.Event, v string) { e.UserID = v }},
	{"device_id", 100, false, func(e *models.Event, v string) { e.DeviceID = v }},
	{"user_agent", 512, false, func(e *models.Event, v string) { e.UserAgent = v }},
	{"client_version", 100, false, func(e *models.Event, v string) { e.ClientVersion = v }},
	{"interaction_text", 0, false, func(e *models.Event, v string) { e.InteractionText = v }},
}

// Validate checks a raw JSON payload against the event contract and, on
// success, returns the normalized Event. All violations are reported,
// not just the first.
func Validate(raw []byte) Result {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Result{Errors: []FieldError{{
			Field:   "$",
			Code:    CodeMalformed,
			Message: fmt.Sprintf("payload is not a JSON object: %v", err),
		}}}
	}
	return ValidateMap(payload)
}

// ValidateMap validates an already-decoded payload. Unknown top-level
// fields are ignored.
func ValidateMap(payload map[string]any) Result {
	var res Result
	event := &models.Event{}

	for _, spec := range stringSpecs {
		v, ok := payload[spec.name]
		if !ok || v == nil {
			if spec.required {
				res.Errors = append(res.Errors, FieldError{
					Field:   spec.name,
					Code:    CodeMissing,
					Message: fmt.Sprintf("%s is required", spec.name),
				})
			}
			continue
		}
		s, ok := v.(string)
		if !ok {
			res.Errors = append(res.Errors, FieldError{
				Field:   spec.name,
				Code:    CodeType,
				Message: fmt.Sprintf("%s must be a string, got %s", spec.name, typeName(v)),
			})
			continue
		}
		if spec.required && s == "" {
			res.Errors = append(res.Errors, FieldError{
				Field:   spec.name,
				Code:    CodeMissing,
				Message: fmt.Sprintf("%s is required", spec.name),
			})
			continue
		}
		if spec.maxLen > 0 && len(s) > spec.maxLen {
			res.Errors = append(res.Errors, FieldError{
				Field:   spec.name,
				Code:    CodeLength,
				Message: fmt.Sprintf("%s exceeds max length %d (got %d)", spec.name, spec.maxLen, len(s)),
			})
			continue
		}
		spec.assign(event, s)
	}

	if v, ok := payload["interaction_value"]; ok && v != nil {
		if n, ok := v.(float64); ok {
			event.InteractionValue = &n
		} else {
			res.Errors = append(res.Errors, FieldError{
				Field:   "interaction_value",
				Code:    CodeType,
				Message: fmt.Sprintf("interaction_value must be a number, got %s", typeName(v)),
			})
		}
	}

	if v, ok := payload["timestamp"]; ok && v != nil {
		s, ok := v.(string)
		switch {
		case !ok:
			res.Errors = append(res.Errors, FieldError{
				Field:   "timestamp",
				Code:    CodeType,
				Message: fmt.Sprintf("timestamp must be a string, got %s", typeName(v)),
			})
		case !timestampPattern.MatchString(s):
			res.Errors = append(res.Errors, FieldError{
				Field:   "timestamp",
				Code:    CodeFormat,
				Message: "timestamp must match YYYY-MM-DDTHH:mm:ss[.sss]Z (UTC)",
			})
		default:
			event.Timestamp = s
		}
	} else {
		res.Warnings = append(res.Warnings, "timestamp missing; server receive time will be assigned")
	}

	if v, ok := payload["metadata"]; ok && v != nil {
		m, ok := v.(map[string]any)
		if !ok {
			res.Errors = append(res.Errors, FieldError{
				Field:   "metadata",
				Code:    CodeType,
				Message: fmt.Sprintf("metadata must be an object, got %s", typeName(v)),
			})
		} else if _, err := json.Marshal(m); err != nil {
			res.Errors = append(res.Errors, FieldError{
				Field:   "metadata",
				Code:    CodeMetadata,
				Message: fmt.Sprintf("metadata does not serialize to JSON: %v", err),
			})
		} else {
			event.Metadata = m
		}
	}

	if event.Channel != "" && !recommendedChannels[event.Channel] {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("channel %q is outside the recommended set; accepting anyway", event.Channel))
	}
	if event.EventCategory != "" && !recommendedCategories[event.EventCategory] {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("event_category %q is outside the recommended set; accepting anyway", event.EventCategory))
	}

	if len(res.Errors) == 0 {
		res.Event = event
	}
	return res
}

// typeName reports the JSON type of a decoded value for error messages.
func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}
