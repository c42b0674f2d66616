// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// ClaudeDriver drives a Claude-style coding agent CLI in stream-json
// print mode: one JSON object per stdout line, each with a "type"
// field.
type ClaudeDriver struct {
	// Binary is the agent executable. Empty means "claude", or the
	// REMEDY_AGENT_BINARY environment variable when set.
	Binary string

	// Model overrides the runtime's default model selection.
	Model string

	// ExtraArgs are appended to the argument list verbatim.
	ExtraArgs []string
}

type claudeProcess struct {
	command *exec.Cmd
	cancel  context.CancelFunc
}

func (process *claudeProcess) Wait() error {
	err := process.command.Wait()
	if process.cancel != nil {
		process.cancel()
	}
	return err
}

func (process *claudeProcess) Signal(signal os.Signal) error {
	if process.command.Process == nil {
		return fmt.Errorf("process not started")
	}
	return process.command.Process.Signal(signal)
}

func (driver *ClaudeDriver) binaryPath() string {
	if driver.Binary != "" {
		return driver.Binary
	}
	if fromEnv := os.Getenv("REMEDY_AGENT_BINARY"); fromEnv != "" {
		return fromEnv
	}
	return "claude"
}

// Start spawns the agent with stream-json output. When the config
// carries a timeout the process is killed at the deadline; the
// resulting exit error surfaces through Wait.
func (driver *ClaudeDriver) Start(ctx context.Context, config DriverConfig) (Process, io.ReadCloser, error) {
	arguments := []string{
		"--output-format", "stream-json",
		"--print",
		"--verbose",
	}
	if driver.Model != "" {
		arguments = append(arguments, "--model", driver.Model)
	}
	if config.Thinking {
		arguments = append(arguments, "--thinking")
	}
	arguments = append(arguments, driver.ExtraArgs...)
	// Prompt as positional argument.
	arguments = append(arguments, config.Prompt)

	var cancel context.CancelFunc
	if config.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
	}

	command := exec.CommandContext(ctx, driver.binaryPath(), arguments...)
	command.Dir = config.WorkingDirectory
	command.Stderr = os.Stderr
	command.Env = append(os.Environ(), config.ExtraEnv...)
	if config.OutputDir != "" {
		command.Env = append(command.Env, "REMEDY_OUTPUT_DIR="+config.OutputDir)
	}

	stdout, err := command.StdoutPipe()
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	if err := command.Start(); err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, nil, fmt.Errorf("starting %s: %w", driver.binaryPath(), err)
	}

	return &claudeProcess{command: command, cancel: cancel}, stdout, nil
}

// ParseOutput reads stream-json stdout line by line and emits
// structured events. Malformed lines become raw output events rather
// than errors: the extraction chain wants everything the agent said.
func (driver *ClaudeDriver) ParseOutput(ctx context.Context, stdout io.Reader, events chan<- Event) error {
	scanner := bufio.NewScanner(stdout)
	// Agents produce long lines (tool results with whole files).
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		events <- parseStreamJSONLine(line)
	}
	return scanner.Err()
}

// Interrupt sends SIGINT, which lets the runtime finish the current
// tool call and exit.
func (driver *ClaudeDriver) Interrupt(process Process) error {
	return process.Signal(syscall.SIGINT)
}

// streamJSONEnvelope is the common envelope for stream-json output.
type streamJSONEnvelope struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
}

// parseStreamJSONLine maps one stream-json line to an Event. Known
// shapes:
//
//	{"type":"system","subtype":"init",...}      → EventTypeSystem
//	{"type":"assistant","subtype":"text",...}   → EventTypeResponse
//	{"type":"assistant","subtype":"tool_use"}   → EventTypeToolCall
//	{"type":"tool","subtype":"result",...}      → EventTypeToolResult
//	{"type":"result",...}                       → EventTypeMetric
//	{"type":"error",...}                        → EventTypeError
//
// Anything else (including unparseable lines) is preserved raw.
func parseStreamJSONLine(line []byte) Event {
	now := time.Now()
	raw := func() Event {
		return Event{
			Timestamp: now,
			Type:      EventTypeOutput,
			Output:    &OutputEvent{Raw: json.RawMessage(append([]byte(nil), line...))},
		}
	}

	var envelope streamJSONEnvelope
	if err := json.Unmarshal(line, &envelope); err != nil {
		return raw()
	}

	switch envelope.Type {
	case "system":
		return Event{
			Timestamp: now,
			Type:      EventTypeSystem,
			System: &SystemEvent{
				Subtype: envelope.Subtype,
				Message: extractStringField(line, "message"),
			},
		}

	case "assistant":
		switch envelope.Subtype {
		case "text":
			return Event{
				Timestamp: now,
				Type:      EventTypeResponse,
				Response:  &ResponseEvent{Content: extractStringField(line, "text")},
			}
		case "tool_use":
			var toolUse struct {
				ID    string          `json:"tool_use_id"`
				Name  string          `json:"name"`
				Input json.RawMessage `json:"input"`
			}
			if err := json.Unmarshal(line, &toolUse); err != nil {
				return raw()
			}
			return Event{
				Timestamp: now,
				Type:      EventTypeToolCall,
				ToolCall: &ToolCallEvent{
					ID:    toolUse.ID,
					Name:  toolUse.Name,
					Input: toolUse.Input,
				},
			}
		default:
			return raw()
		}

	case "tool":
		if envelope.Subtype != "result" {
			return raw()
		}
		var toolResult struct {
			ToolUseID string `json:"tool_use_id"`
			IsError   bool   `json:"is_error"`
			Content   string `json:"content"`
		}
		if err := json.Unmarshal(line, &toolResult); err != nil {
			return raw()
		}
		return Event{
			Timestamp: now,
			Type:      EventTypeToolResult,
			ToolResult: &ToolResultEvent{
				ID:      toolResult.ToolUseID,
				IsError: toolResult.IsError,
				Output:  toolResult.Content,
			},
		}

	case "result":
		var result struct {
			CostUSD         float64 `json:"cost_usd"`
			InputTokens     int64   `json:"input_tokens"`
			OutputTokens    int64   `json:"output_tokens"`
			DurationSeconds float64 `json:"duration_seconds"`
			DurationMS      float64 `json:"duration_ms"`
			TurnCount       int64   `json:"num_turns"`
		}
		if err := json.Unmarshal(line, &result); err != nil {
			return raw()
		}
		durationSeconds := result.DurationSeconds
		if durationSeconds == 0 && result.DurationMS > 0 {
			durationSeconds = result.DurationMS / 1000.0
		}
		return Event{
			Timestamp: now,
			Type:      EventTypeMetric,
			Metric: &MetricEvent{
				InputTokens:     result.InputTokens,
				OutputTokens:    result.OutputTokens,
				CostUSD:         result.CostUSD,
				DurationSeconds: durationSeconds,
				TurnCount:       result.TurnCount,
			},
		}

	case "error":
		return Event{
			Timestamp: now,
			Type:      EventTypeError,
			Error:     &ErrorEvent{Message: extractStringField(line, "message")},
		}

	default:
		return raw()
	}
}

// extractStringField pulls one string field out of a JSON object
// without deserializing the whole shape. Empty on any error.
func extractStringField(data []byte, field string) string {
	var parsed map[string]json.RawMessage
	if json.Unmarshal(data, &parsed) != nil {
		return ""
	}
	raw, ok := parsed[field]
	if !ok {
		return ""
	}
	var value string
	if json.Unmarshal(raw, &value) != nil {
		return ""
	}
	return value
}
