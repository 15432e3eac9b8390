package app

import (
	"encoding/json"
	"fmt"
	"time"
)

// RunStatus is the lifecycle status of a run.
type RunStatus string

const (
	RunStatusPending     RunStatus = "pending"
	RunStatusRunning     RunStatus = "running"
	RunStatusError       RunStatus = "error"
	RunStatusSuccess     RunStatus = "success"
	RunStatusInterrupted RunStatus = "interrupted"
)

// Terminal reports whether the status is an end state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusError, RunStatusSuccess, RunStatusInterrupted:
		return true
	}
	return false
}

// ThreadStatus is derived from checkpoint state and run activity, never
// stored.
type ThreadStatus string

const (
	ThreadStatusIdle        ThreadStatus = "idle"
	ThreadStatusBusy        ThreadStatus = "busy"
	ThreadStatusInterrupted ThreadStatus = "interrupted"
	ThreadStatusError       ThreadStatus = "error"
)

// MultitaskStrategy decides what happens when a run arrives on a thread that
// already has an active run.
type MultitaskStrategy string

const (
	MultitaskReject    MultitaskStrategy = "reject"
	MultitaskRollback  MultitaskStrategy = "rollback"
	MultitaskInterrupt MultitaskStrategy = "interrupt"
	MultitaskEnqueue   MultitaskStrategy = "enqueue"
)

// DisconnectPolicy decides what happens to an attached run when its client
// goes away.
type DisconnectPolicy string

const (
	DisconnectCancel   DisconnectPolicy = "cancel"
	DisconnectContinue DisconnectPolicy = "continue"
)

// CompletionPolicy decides what happens to the run record after a terminal
// status.
type CompletionPolicy string

const (
	CompletionDelete CompletionPolicy = "delete"
	CompletionKeep   CompletionPolicy = "keep"
)

// Well-known event labels. Chunk-derived events carry their stream mode (or
// mode|ns1|ns2 for subgraph chunks) instead.
const (
	EventMetadata = "metadata"
	EventError    = "error"
	EventEnd      = "end"
)

// Event is one unit of run output as placed in the buffer. Subscription
// sequence ids are assigned per consumer at the transport edge, not here.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// StringList accepts either a JSON string or an array of strings.
type StringList []string

// UnmarshalJSON implements the string-or-list shape used across the wire
// API (stream_mode, interrupt_before, goto, ...).
func (l *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = StringList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}
	*l = StringList(many)
	return nil
}

// MarshalJSON always renders the list form.
func (l StringList) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string(l))
}

// CheckpointRef addresses a specific checkpoint on the wire.
type CheckpointRef struct {
	ThreadID     string `json:"thread_id,omitempty"`
	CheckpointNS string `json:"checkpoint_ns"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
}

// CommandSpec resumes or redirects an interrupted run.
type CommandSpec struct {
	Resume any            `json:"resume,omitempty"`
	Goto   StringList     `json:"goto,omitempty"`
	Update map[string]any `json:"update,omitempty"`
}

// Empty reports whether the command carries no directives.
func (c *CommandSpec) Empty() bool {
	return c == nil || (c.Resume == nil && len(c.Goto) == 0 && c.Update == nil)
}

// RunConfigSpec is the caller-supplied engine configuration.
type RunConfigSpec struct {
	Tags           []string       `json:"tags,omitempty"`
	RecursionLimit int            `json:"recursion_limit,omitempty"`
	Configurable   map[string]any `json:"configurable,omitempty"`
}

// RunRequest is the payload for creating or streaming a run.
type RunRequest struct {
	AssistantID       string            `json:"assistant_id"`
	Input             any               `json:"input,omitempty"`
	Command           *CommandSpec      `json:"command,omitempty"`
	Metadata          map[string]any    `json:"metadata,omitempty"`
	Config            *RunConfigSpec    `json:"config,omitempty"`
	Checkpoint        *CheckpointRef    `json:"checkpoint,omitempty"`
	CheckpointID      string            `json:"checkpoint_id,omitempty"`
	Webhook           string            `json:"webhook,omitempty"`
	InterruptBefore   StringList        `json:"interrupt_before,omitempty"`
	InterruptAfter    StringList        `json:"interrupt_after,omitempty"`
	StreamMode        StringList        `json:"stream_mode,omitempty"`
	StreamSubgraphs   bool              `json:"stream_subgraphs,omitempty"`
	StreamResumable   bool              `json:"stream_resumable,omitempty"`
	MultitaskStrategy MultitaskStrategy `json:"multitask_strategy,omitempty"`
	IfNotExists       string            `json:"if_not_exists,omitempty"`
	OnDisconnect      DisconnectPolicy  `json:"on_disconnect,omitempty"`
	OnCompletion      CompletionPolicy  `json:"on_completion,omitempty"`
	AfterSeconds      int               `json:"after_seconds,omitempty"`
}

// Run is the wire view of a run record.
type Run struct {
	RunID       string         `json:"run_id"`
	ThreadID    string         `json:"thread_id"`
	AssistantID string         `json:"assistant_id"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Status      RunStatus      `json:"status"`
	Metadata    map[string]any `json:"metadata"`
}

// ThreadCreateRequest creates (or names) a thread.
type ThreadCreateRequest struct {
	ThreadID string         `json:"thread_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ThreadInterrupt is the flattened interrupt view attached to threads.
type ThreadInterrupt struct {
	Value     any      `json:"value,omitempty"`
	When      string   `json:"when"`
	Resumable bool     `json:"resumable"`
	NS        []string `json:"ns,omitempty"`
}

// Thread is the wire view of a thread.
type Thread struct {
	ThreadID   string                       `json:"thread_id"`
	CreatedAt  time.Time                    `json:"created_at"`
	UpdatedAt  time.Time                    `json:"updated_at"`
	Metadata   map[string]any               `json:"metadata"`
	Status     ThreadStatus                 `json:"status"`
	Values     map[string]any               `json:"values,omitempty"`
	Interrupts map[string][]ThreadInterrupt `json:"interrupts,omitempty"`
}

// InterruptView is an engine interrupt on the wire.
type InterruptView struct {
	Value any    `json:"value,omitempty"`
	ID    string `json:"id,omitempty"`
}

// ThreadTask is one pending or attempted unit of work in a thread state.
type ThreadTask struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Error      string          `json:"error,omitempty"`
	Interrupts []InterruptView `json:"interrupts"`
	Checkpoint *CheckpointRef  `json:"checkpoint,omitempty"`
	State      *ThreadState    `json:"state,omitempty"`
	Result     any             `json:"result,omitempty"`
}

// ThreadState is the wire view of one checkpoint snapshot.
type ThreadState struct {
	Values           map[string]any  `json:"values"`
	Next             []string        `json:"next"`
	Checkpoint       *CheckpointRef  `json:"checkpoint,omitempty"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
	CreatedAt        *time.Time      `json:"created_at,omitempty"`
	ParentCheckpoint *CheckpointRef  `json:"parent_checkpoint,omitempty"`
	Tasks            []ThreadTask    `json:"tasks"`
	Interrupts       []InterruptView `json:"interrupts"`
}

// ThreadSearchRequest filters and pages the thread listing.
type ThreadSearchRequest struct {
	Metadata map[string]any `json:"metadata,omitempty"`
	Values   map[string]any `json:"values,omitempty"`
	Status   ThreadStatus   `json:"status,omitempty"`
	Limit    int            `json:"limit,omitempty"`
	Offset   int            `json:"offset,omitempty"`
}

// RunWaitResult is the aggregate outcome of a run awaited to completion.
type RunWaitResult struct {
	RunID  string    `json:"run_id"`
	Status RunStatus `json:"status"`
	Output any       `json:"output,omitempty"`
	Error  string    `json:"error,omitempty"`
}
