package domain

import "encoding/json"

// Action is the kind of time-tracking operation inferred from a message.
type Action string

const (
	ActionStartTimer Action = "start_timer"
	ActionAddEntry   Action = "add_entry"
	ActionStopTimer  Action = "stop_timer"
	ActionGetStatus  Action = "get_status"
	ActionNone       Action = "none"
)

// Intent is the structured interpretation of a user message
type Intent struct {
	Action          Action `json:"action"`
	Description     string `json:"description,omitempty"`
	DurationSeconds *int64 `json:"duration_seconds,omitempty"`
	RawText         string `json:"raw_text"`
	Err             string `json:"error,omitempty"`

	// Extra holds any fields the model returned beyond the ones above.
	// They are passed through untouched and echoed in the transparency reply.
	Extra map[string]json.RawMessage `json:"-"`
}

// JSON renders the intent, including extra model fields, as indented JSON
// for the "I'm not sure how to handle that" reply.
func (in Intent) JSON() string {
	m := map[string]any{
		"action":   in.Action,
		"raw_text": in.RawText,
	}
	if in.Description != "" {
		m["description"] = in.Description
	}
	if in.DurationSeconds != nil {
		m["duration_seconds"] = *in.DurationSeconds
	}
	if in.Err != "" {
		m["error"] = in.Err
	}
	for k, v := range in.Extra {
		m[k] = v
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return string(in.Action)
	}
	return string(b)
}
