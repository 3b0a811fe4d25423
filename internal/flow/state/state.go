// Package state tracks one workflow run: per-node status, edge snapshots,
// the action log, and pause state. A Run is the single source of truth the
// engine writes into and the API/SSE layer reads out of. Every mutation
// emits an event to subscribed observers, so live clients see exactly the
// transitions the tracker recorded.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/iosans/loom/internal/flow/fault"
)

// Status is the lifecycle of a node within one run. Transitions are
// monotonic: pending -> running -> success|error, and error may be entered
// straight from pending when validation fails. Terminal states never change.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// LogLevel classifies action-log entries.
type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelAction  LogLevel = "action"
	LevelWarn    LogLevel = "warn"
	LevelSuccess LogLevel = "success"
	LevelError   LogLevel = "error"
)

// NodeResult is the recorded outcome of one node.
type NodeResult struct {
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"startedAt,omitzero"`
	EndedAt   time.Time `json:"endedAt,omitzero"`
	Output    any       `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// EdgeSnapshot records the value that traveled an edge.
type EdgeSnapshot struct {
	Output any       `json:"output"`
	At     time.Time `json:"timestamp"`
}

// Entry is one line of the run's action log.
type Entry struct {
	At      time.Time      `json:"ts"`
	NodeID  string         `json:"nodeId,omitempty"`
	Level   LogLevel       `json:"level"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Event is the observer payload. Every event carries an "event" key naming
// its kind plus snake_case detail fields.
type Event map[string]any

// Report is the full snapshot of a run, also persisted as run.json.
type Report struct {
	RunID     string                  `json:"runId"`
	StartedAt time.Time               `json:"startedAt"`
	EndedAt   time.Time               `json:"endedAt,omitzero"`
	Running   bool                    `json:"running"`
	Paused    bool                    `json:"paused"`
	OK        bool                    `json:"ok"`
	Nodes     map[string]NodeResult   `json:"nodes"`
	Edges     map[string]EdgeSnapshot `json:"edges"`
	Log       []Entry                 `json:"log"`
}

// Run is safe for concurrent use. Observers are invoked synchronously while
// the run lock is held and must not call back into the Run.
type Run struct {
	mu        sync.Mutex
	id        string
	startedAt time.Time
	endedAt   time.Time
	running   bool
	paused    bool
	ok        bool
	nodes     map[string]*NodeResult
	edges     map[string]EdgeSnapshot
	log       []Entry
	observers map[int]func(Event)
	nextObs   int
	now       func() time.Time
}

// NewRun initializes every listed node as pending and marks the run
// started. Run ids are ULIDs, so they sort by creation time.
func NewRun(nodeIDs []string) *Run {
	r := &Run{
		id:        ulid.Make().String(),
		nodes:     make(map[string]*NodeResult, len(nodeIDs)),
		edges:     make(map[string]EdgeSnapshot),
		observers: make(map[int]func(Event)),
		now:       time.Now,
	}
	for _, id := range nodeIDs {
		r.nodes[id] = &NodeResult{Status: StatusPending}
	}
	r.startedAt = r.now().UTC()
	r.running = true
	return r
}

func (r *Run) ID() string { return r.id }

// Subscribe registers an observer for every subsequent event. The returned
// function removes it.
func (r *Run) Subscribe(fn func(Event)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextObs
	r.nextObs++
	r.observers[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.observers, id)
	}
}

func (r *Run) emitLocked(ev Event) {
	for _, fn := range r.observers {
		fn(ev)
	}
}

// SetRunning transitions a pending node to running. Calls on nodes already
// terminal or already running are ignored, which keeps status monotonic.
func (r *Run) SetRunning(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.nodeLocked(nodeID)
	if n.Status != StatusPending {
		return
	}
	n.Status = StatusRunning
	n.StartedAt = r.now().UTC()
	r.emitLocked(Event{"event": "node_status", "node_id": nodeID, "status": string(StatusRunning), "ts": n.StartedAt})
}

// SetSuccess records a node's output and marks it success.
func (r *Run) SetSuccess(nodeID string, output any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.nodeLocked(nodeID)
	if n.Status == StatusSuccess || n.Status == StatusError {
		return
	}
	if n.StartedAt.IsZero() {
		n.StartedAt = r.now().UTC()
	}
	n.Status = StatusSuccess
	n.EndedAt = r.now().UTC()
	n.Output = output
	r.emitLocked(Event{"event": "node_status", "node_id": nodeID, "status": string(StatusSuccess), "output": output, "ts": n.EndedAt})
}

// SetError marks a node failed with a message. A pending node may fail
// directly when validation rejects it before execution.
func (r *Run) SetError(nodeID, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.nodeLocked(nodeID)
	if n.Status == StatusSuccess || n.Status == StatusError {
		return
	}
	if n.StartedAt.IsZero() {
		n.StartedAt = r.now().UTC()
	}
	n.Status = StatusError
	n.EndedAt = r.now().UTC()
	n.Error = message
	r.emitLocked(Event{"event": "node_status", "node_id": nodeID, "status": string(StatusError), "error": message, "ts": n.EndedAt})
}

func (r *Run) nodeLocked(nodeID string) *NodeResult {
	n, ok := r.nodes[nodeID]
	if !ok {
		n = &NodeResult{Status: StatusPending}
		r.nodes[nodeID] = n
	}
	return n
}

// NodeResult returns a copy of the node's recorded outcome.
func (r *Run) NodeResult(nodeID string) (NodeResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return NodeResult{}, false
	}
	return *n, true
}

// StatusOf returns the node's status, pending for unknown ids.
func (r *Run) StatusOf(nodeID string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[nodeID]; ok {
		return n.Status
	}
	return StatusPending
}

// SetEdgeSnapshot records the value carried by an edge. The first write
// wins: a node succeeds at most once per run, so a second write for the
// same edge indicates a caller bug and is dropped.
func (r *Run) SetEdgeSnapshot(edgeID string, output any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.edges[edgeID]; ok {
		return
	}
	snap := EdgeSnapshot{Output: output, At: r.now().UTC()}
	r.edges[edgeID] = snap
	r.emitLocked(Event{"event": "edge_snapshot", "edge_id": edgeID, "ts": snap.At})
}

// EdgeSnapshot returns the recorded snapshot for an edge.
func (r *Run) EdgeSnapshot(edgeID string) (EdgeSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.edges[edgeID]
	return s, ok
}

// Log appends an action-log entry.
func (r *Run) Log(nodeID string, level LogLevel, message string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := Entry{At: r.now().UTC(), NodeID: nodeID, Level: level, Message: message, Data: data}
	r.log = append(r.log, e)
	ev := Event{"event": "log", "node_id": nodeID, "level": string(level), "message": message, "ts": e.At}
	if len(data) > 0 {
		ev["data"] = data
	}
	r.emitLocked(ev)
}

// Pause suspends scheduling. The engine polls Paused before starting each
// node; nodes already in flight keep running.
func (r *Run) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paused || !r.running {
		return
	}
	r.paused = true
	r.emitLocked(Event{"event": "run_paused", "run_id": r.id, "ts": r.now().UTC()})
}

// Resume lifts a pause.
func (r *Run) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.paused {
		return
	}
	r.paused = false
	r.emitLocked(Event{"event": "run_resumed", "run_id": r.id, "ts": r.now().UTC()})
}

func (r *Run) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

func (r *Run) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Finish marks the run ended. Repeated calls keep the first outcome.
func (r *Run) Finish(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.running = false
	r.paused = false
	r.ok = ok
	r.endedAt = r.now().UTC()
	r.emitLocked(Event{"event": "run_finished", "run_id": r.id, "ok": ok, "ts": r.endedAt})
}

// Snapshot returns a deep-enough copy of the run for serialization. Node
// outputs are shared, not cloned; callers must treat them as read-only.
func (r *Run) Snapshot() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep := Report{
		RunID:     r.id,
		StartedAt: r.startedAt,
		EndedAt:   r.endedAt,
		Running:   r.running,
		Paused:    r.paused,
		OK:        r.ok,
		Nodes:     make(map[string]NodeResult, len(r.nodes)),
		Edges:     make(map[string]EdgeSnapshot, len(r.edges)),
		Log:       append([]Entry(nil), r.log...),
	}
	for id, n := range r.nodes {
		rep.Nodes[id] = *n
	}
	for id, s := range r.edges {
		rep.Edges[id] = s
	}
	return rep
}

// WriteReport persists the snapshot to <runsDir>/<runID>/run.json and
// returns the written path.
func (r *Run) WriteReport(runsDir string) (string, error) {
	rep := r.Snapshot()
	dir := filepath.Join(runsDir, rep.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fault.Wrap(fault.StorageFailure, err)
	}
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fault.Wrap(fault.StorageFailure, fmt.Errorf("encode run report: %w", err))
	}
	path := filepath.Join(dir, "run.json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", fault.Wrap(fault.StorageFailure, err)
	}
	return path, nil
}

// ReadReport loads a persisted run report from <runsDir>/<runID>/run.json.
func ReadReport(runsDir, runID string) (Report, error) {
	var rep Report
	b, err := os.ReadFile(filepath.Join(runsDir, runID, "run.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return rep, fault.New(fault.InvalidInput, "run %q not found", runID)
		}
		return rep, fault.Wrap(fault.StorageFailure, err)
	}
	if err := json.Unmarshal(b, &rep); err != nil {
		return rep, fault.Wrap(fault.StorageFailure, fmt.Errorf("decode run report: %w", err))
	}
	return rep, nil
}
