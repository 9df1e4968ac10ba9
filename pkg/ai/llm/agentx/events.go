package agentx

import "time"

// EventType identifies what kind of event is being emitted
type EventType string

const (
	// EventRound fires after each model output has been parsed
	EventRound EventType = "round"

	// EventToolCall fires when the agent is about to call a tool
	EventToolCall EventType = "tool_call"

	// EventToolResult fires after a tool has returned its observation
	EventToolResult EventType = "tool_result"

	// EventRetry fires before a failed model call is retried
	EventRetry EventType = "retry"

	// EventCompaction fires after the working context was compacted
	EventCompaction EventType = "compaction"

	// EventTermination fires once, when the trajectory ends
	EventTermination EventType = "termination"
)

// Event is the structured payload sent to an Observer
type Event struct {
	Type   EventType
	TaskID string
	Round  int

	// EventRound
	Kind Kind

	// EventToolCall / EventToolResult
	ToolName   string
	ToolOutput string

	// EventCompaction
	TokensBefore int
	TokensAfter  int

	// EventTermination
	Termination Termination

	// EventRetry / EventTermination
	Err      error
	Duration time.Duration
}

// Observer receives events as they happen. It is called from the
// trajectory's goroutine and must not block.
type Observer func(event Event)
