// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"encoding/json"
	"time"
)

// EventType classifies agent output events.
type EventType string

const (
	// EventTypeResponse is a text response from the agent.
	EventTypeResponse EventType = "response"

	// EventTypeToolCall is a tool invocation by the agent.
	EventTypeToolCall EventType = "tool_call"

	// EventTypeToolResult is the result returned from a tool invocation.
	EventTypeToolResult EventType = "tool_result"

	// EventTypeMetric is a summary metric event (tokens, cost, duration).
	EventTypeMetric EventType = "metric"

	// EventTypeError is an error event from the agent or wrapper.
	EventTypeError EventType = "error"

	// EventTypeSystem is a system-level event (init, shutdown, config).
	EventTypeSystem EventType = "system"

	// EventTypeOutput is raw output that doesn't map to a structured type.
	EventTypeOutput EventType = "output"
)

// Event is one structured entry from the agent's output stream. The
// fix extractor replays these when no artifact file or stdout JSON
// yielded fixes, so tool inputs are preserved as raw JSON.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`

	// Response is set for EventTypeResponse events.
	Response *ResponseEvent `json:"response,omitempty"`

	// ToolCall is set for EventTypeToolCall events.
	ToolCall *ToolCallEvent `json:"tool_call,omitempty"`

	// ToolResult is set for EventTypeToolResult events.
	ToolResult *ToolResultEvent `json:"tool_result,omitempty"`

	// Metric is set for EventTypeMetric events.
	Metric *MetricEvent `json:"metric,omitempty"`

	// Error is set for EventTypeError events.
	Error *ErrorEvent `json:"error,omitempty"`

	// System is set for EventTypeSystem events.
	System *SystemEvent `json:"system,omitempty"`

	// Output is set for EventTypeOutput events.
	Output *OutputEvent `json:"output,omitempty"`
}

// ResponseEvent records a text response from the agent.
type ResponseEvent struct {
	Content string `json:"content"`
}

// ToolCallEvent records a tool invocation by the agent.
type ToolCallEvent struct {
	// ID is the runtime-specific tool call identifier.
	ID string `json:"id,omitempty"`

	// Name is the tool name (e.g., "Read", "Bash", "Write").
	Name string `json:"name"`

	// Input is the tool input, preserved as raw JSON.
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolResultEvent records the result of a tool invocation.
type ToolResultEvent struct {
	// ID matches the corresponding ToolCallEvent.ID.
	ID string `json:"id,omitempty"`

	// IsError indicates the tool call failed.
	IsError bool `json:"is_error,omitempty"`

	// Output is the tool result text.
	Output string `json:"output,omitempty"`
}

// MetricEvent records summary metrics from the agent session.
type MetricEvent struct {
	InputTokens     int64   `json:"input_tokens,omitempty"`
	OutputTokens    int64   `json:"output_tokens,omitempty"`
	CostUSD         float64 `json:"cost_usd,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	TurnCount       int64   `json:"turn_count,omitempty"`
}

// ErrorEvent records an error.
type ErrorEvent struct {
	Message string `json:"message"`
}

// SystemEvent records system-level events (init, shutdown).
type SystemEvent struct {
	Subtype string `json:"subtype"`
	Message string `json:"message,omitempty"`
}

// OutputEvent records raw output that doesn't map to a structured type.
type OutputEvent struct {
	Raw json.RawMessage `json:"raw"`
}
