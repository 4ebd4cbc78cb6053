// Package testutil provides in-memory collaborator fakes shared by tests.
package testutil

import (
	"context"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"drover/internal/agent/ports"
	"drover/pkg/types"
)

// MemoryFileStore is an in-memory ports.FileStore with atomic batches.
type MemoryFileStore struct {
	mu    sync.Mutex
	files map[string]string
	// FailWrites forces every WriteFiles call to fail without mutating
	// anything, for exercising atomicity paths.
	FailWrites bool
	writeCalls int
}

// NewMemoryFileStore seeds a store with the given files.
func NewMemoryFileStore(files map[string]string) *MemoryFileStore {
	copied := make(map[string]string, len(files))
	for k, v := range files {
		copied[k] = v
	}
	return &MemoryFileStore{files: copied}
}

func (s *MemoryFileStore) ReadFile(_ context.Context, path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.files[path]
	if !ok {
		return "", fmt.Errorf("open %s: %w", path, fs.ErrNotExist)
	}
	return content, nil
}

func (s *MemoryFileStore) WriteFiles(_ context.Context, writes []ports.FileWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeCalls++
	if s.FailWrites {
		return fmt.Errorf("write batch rejected")
	}
	for _, w := range writes {
		if w.Delete {
			delete(s.files, w.Path)
			continue
		}
		s.files[w.Path] = w.Content
	}
	return nil
}

// Files returns a snapshot of the current content.
func (s *MemoryFileStore) Files() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make(map[string]string, len(s.files))
	for k, v := range s.files {
		copied[k] = v
	}
	return copied
}

// WriteCalls returns how many batches were attempted.
func (s *MemoryFileStore) WriteCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeCalls
}

// ScriptedExecutor returns queued results in order and records requests.
type ScriptedExecutor struct {
	mu       sync.Mutex
	results  []*ports.CommandResult
	errs     []error
	Requests []ports.CommandRequest
}

// QueueResult appends a successful command outcome.
func (e *ScriptedExecutor) QueueResult(result *ports.CommandResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results = append(e.results, result)
	e.errs = append(e.errs, nil)
}

// QueueError appends a failed execution.
func (e *ScriptedExecutor) QueueError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results = append(e.results, nil)
	e.errs = append(e.errs, err)
}

func (e *ScriptedExecutor) Run(_ context.Context, req ports.CommandRequest) (*ports.CommandResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Requests = append(e.Requests, req)
	if len(e.results) == 0 {
		return &ports.CommandResult{Command: req.Command, Dir: req.Dir, ExitCode: 0}, nil
	}
	result, err := e.results[0], e.errs[0]
	e.results = e.results[1:]
	e.errs = e.errs[1:]
	if result != nil && result.Command == "" {
		result.Command = req.Command
	}
	return result, err
}

// ScriptedProvider replays queued thoughts and records think requests.
type ScriptedProvider struct {
	mu       sync.Mutex
	thoughts []*ports.Thought
	errs     []error
	Requests []ports.ThinkRequest
}

// Queue appends a thought to replay.
func (p *ScriptedProvider) Queue(thought *ports.Thought) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.thoughts = append(p.thoughts, thought)
	p.errs = append(p.errs, nil)
}

// QueueError appends a provider failure.
func (p *ScriptedProvider) QueueError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.thoughts = append(p.thoughts, nil)
	p.errs = append(p.errs, err)
}

func (p *ScriptedProvider) Think(_ context.Context, req ports.ThinkRequest) (*ports.Thought, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = append(p.Requests, req)
	if len(p.thoughts) == 0 {
		return nil, fmt.Errorf("scripted provider exhausted after %d calls", len(p.Requests))
	}
	thought, err := p.thoughts[0], p.errs[0]
	p.thoughts = p.thoughts[1:]
	p.errs = p.errs[1:]
	return thought, err
}

// ScriptedToolRunner returns queued tool results in order and records
// every call. An exhausted queue yields a generic success.
type ScriptedToolRunner struct {
	mu      sync.Mutex
	results []*types.ToolResult
	errs    []error
	Calls   []types.ToolCall
	Names   []string
}

// QueueResult appends a tool result to replay.
func (r *ScriptedToolRunner) QueueResult(result *types.ToolResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	r.errs = append(r.errs, nil)
}

// QueueError appends a runner failure.
func (r *ScriptedToolRunner) QueueError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, nil)
	r.errs = append(r.errs, err)
}

func (r *ScriptedToolRunner) RunTool(_ context.Context, call types.ToolCall) (*types.ToolResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, call)
	if len(r.results) == 0 {
		return &types.ToolResult{CallID: call.ID, Content: "ok"}, nil
	}
	result, err := r.results[0], r.errs[0]
	r.results = r.results[1:]
	r.errs = r.errs[1:]
	if result != nil && result.CallID == "" {
		result.CallID = call.ID
	}
	return result, err
}

func (r *ScriptedToolRunner) Tools() []string {
	if len(r.Names) > 0 {
		return r.Names
	}
	return []string{"read_file", "write_file", "list_dir", "run_command", "apply_patch"}
}

// CallCount returns how many tool calls the runner received.
func (r *ScriptedToolRunner) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}

// MemoryAuditSink collects audit records in memory.
type MemoryAuditSink struct {
	mu      sync.Mutex
	records []ports.AuditRecord
}

func (s *MemoryAuditSink) Append(_ context.Context, record ports.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

// Records returns a snapshot of appended records.
func (s *MemoryAuditSink) Records() []ports.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ports.AuditRecord, len(s.records))
	copy(out, s.records)
	return out
}

// RecordingDeliverer captures webhook requests and replies as configured.
type RecordingDeliverer struct {
	mu       sync.Mutex
	Err      error
	Delay    time.Duration
	Panic    bool
	requests []ports.WebhookRequest
	done     chan struct{}
}

// NewRecordingDeliverer creates a deliverer whose Wait helper unblocks
// after each delivery.
func NewRecordingDeliverer() *RecordingDeliverer {
	return &RecordingDeliverer{done: make(chan struct{}, 64)}
}

func (d *RecordingDeliverer) Deliver(ctx context.Context, req ports.WebhookRequest) (*ports.WebhookResult, error) {
	if d.Delay > 0 {
		select {
		case <-time.After(d.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	d.requests = append(d.requests, req)
	err := d.Err
	d.mu.Unlock()

	defer func() {
		select {
		case d.done <- struct{}{}:
		default:
		}
	}()
	if d.Panic {
		panic("deliverer exploded")
	}
	if err != nil {
		return nil, err
	}
	return &ports.WebhookResult{StatusCode: 200}, nil
}

// Requests returns delivered requests so far.
func (d *RecordingDeliverer) Requests() []ports.WebhookRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ports.WebhookRequest, len(d.requests))
	copy(out, d.requests)
	return out
}

// Wait blocks until one delivery attempt finishes or the timeout expires.
func (d *RecordingDeliverer) Wait(timeout time.Duration) bool {
	select {
	case <-d.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// RecordingNotifier captures notifications.
type RecordingNotifier struct {
	mu            sync.Mutex
	notifications []ports.Notification
}

func (n *RecordingNotifier) Notify(_ context.Context, notification ports.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notification)
	return nil
}

// Notifications returns captured notifications.
func (n *RecordingNotifier) Notifications() []ports.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]ports.Notification, len(n.notifications))
	copy(out, n.notifications)
	return out
}
