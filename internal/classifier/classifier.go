// Package classifier maps free-form user text to a time-tracking intent
// using the generative language model.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pbaille/togglbot/internal/domain"
)

// systemPrompt instructs the model to answer with a single JSON object.
const systemPrompt = `
You are an intent recognition system for a personal assistant bot.
Your task is to analyze user messages and extract their intent, specifically for Toggl time tracking.
Respond only with a JSON object containing the 'action', 'description', and 'duration_seconds' (if applicable).
If no clear Toggl-related intent is found, return "action": "none".

Actions can be: "start_timer", "add_entry", "stop_timer", "get_status".

Examples:
User: "Start a timer for coding"
Response: {"action": "start_timer", "description": "coding"}

User: "Add 30 minutes for meeting prep"
Response: {"action": "add_entry", "description": "meeting prep", "duration_seconds": 1800}

User: "Stop current task"
Response: {"action": "stop_timer"}

User: "What am I working on?"
Response: {"action": "get_status"}

User: "Remind me in 5 minutes"
Response: {"action": "none"}

User: "Start 'reading documentation' for 1 hour"
Response: {"action": "start_timer", "description": "reading documentation", "duration_seconds": 3600}
`

// Generator is the slice of the model client the classifier needs.
type Generator interface {
	GenerateText(ctx context.Context, parts ...string) (string, error)
	Configured() bool
}

// Classifier turns user text into a domain.Intent.
type Classifier struct {
	model Generator
}

// New creates a Classifier backed by the given model client.
func New(model Generator) *Classifier {
	return &Classifier{model: model}
}

// Configured reports whether the underlying model has a credential.
func (c *Classifier) Configured() bool {
	return c.model.Configured()
}

// Classify analyzes text and returns the inferred intent. Model errors and
// parse failures are never fatal: they come back as a none-action intent
// with Err set, so the conversation always continues.
func (c *Classifier) Classify(ctx context.Context, text string) domain.Intent {
	resp, err := c.model.GenerateText(ctx, systemPrompt, fmt.Sprintf("User: %s\nResponse: ", text))
	if err != nil {
		return domain.Intent{Action: domain.ActionNone, RawText: text, Err: err.Error()}
	}

	intent, err := parseResponse(resp)
	if err != nil {
		return domain.Intent{Action: domain.ActionNone, RawText: text, Err: err.Error()}
	}
	intent.RawText = text
	return intent
}

// parseResponse extracts the intent JSON from the model reply. The model
// often wraps JSON in a markdown code block; leading and trailing fences
// are stripped independently, each a no-op when absent.
func parseResponse(resp string) (domain.Intent, error) {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	resp = strings.TrimSpace(resp)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(resp), &fields); err != nil {
		return domain.Intent{}, fmt.Errorf("parse json: %w (response: %s)", err, resp)
	}

	var intent domain.Intent
	if raw, ok := fields["action"]; ok {
		var a string
		if err := json.Unmarshal(raw, &a); err != nil {
			return domain.Intent{}, fmt.Errorf("parse action: %w", err)
		}
		intent.Action = domain.Action(a)
		delete(fields, "action")
	} else {
		intent.Action = domain.ActionNone
	}
	if raw, ok := fields["description"]; ok {
		if err := json.Unmarshal(raw, &intent.Description); err != nil {
			return domain.Intent{}, fmt.Errorf("parse description: %w", err)
		}
		delete(fields, "description")
	}
	if raw, ok := fields["duration_seconds"]; ok {
		var d int64
		if err := json.Unmarshal(raw, &d); err != nil {
			return domain.Intent{}, fmt.Errorf("parse duration_seconds: %w", err)
		}
		intent.DurationSeconds = &d
		delete(fields, "duration_seconds")
	}
	// Anything else the model produced rides along untouched.
	if len(fields) > 0 {
		intent.Extra = fields
	}

	return intent, nil
}
