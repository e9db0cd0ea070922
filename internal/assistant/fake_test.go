package assistant

import (
	"context"
	"fmt"
	"sync"

	"github.com/haasonsaas/copilot/internal/backoff"
	"github.com/haasonsaas/copilot/internal/jobs"
)

// fakeProvider is an in-memory Provider. RetrieveRun replays a per-run
// script of statuses, repeating the last entry.
type fakeProvider struct {
	mu sync.Mutex

	scripts  map[string][]Run
	retrieve map[string]int
	existing []Run

	createAssistantErr error
	postErr            error
	createRunErr       error
	cancelErr          map[string]error
	listMessagesErr    error
	deleteErr          error

	assistants []AssistantSpec
	deleted    []string
	posted     []string
	cancelled  []string
	submitted  [][]ToolOutput
	messages   []ThreadMessage
	nextRun    int
	// calls records run operations in order.
	calls []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		scripts:   make(map[string][]Run),
		retrieve:  make(map[string]int),
		cancelErr: make(map[string]error),
	}
}

func (f *fakeProvider) script(runID string, statuses ...RunStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, status := range statuses {
		f.scripts[runID] = append(f.scripts[runID], Run{ID: runID, ThreadID: "thread_1", Status: status})
	}
}

func (f *fakeProvider) scriptRun(run Run) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[run.ID] = append(f.scripts[run.ID], run)
}

func (f *fakeProvider) retrievals(runID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.retrieve[runID]
}

func (f *fakeProvider) CreateAssistant(ctx context.Context, spec AssistantSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createAssistantErr != nil {
		return "", f.createAssistantErr
	}
	f.assistants = append(f.assistants, spec)
	return fmt.Sprintf("asst_%d", len(f.assistants)), nil
}

func (f *fakeProvider) DeleteAssistant(ctx context.Context, assistantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, assistantID)
	return f.deleteErr
}

func (f *fakeProvider) ListAssistants(ctx context.Context, limit int, after string) (AssistantPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var page AssistantPage
	for i, spec := range f.assistants {
		page.Assistants = append(page.Assistants, AssistantInfo{ID: fmt.Sprintf("asst_%d", i+1), Name: spec.Name, Model: spec.Model})
	}
	return page, nil
}

func (f *fakeProvider) CreateThread(ctx context.Context) (string, error) {
	return "thread_new", nil
}

func (f *fakeProvider) PostMessage(ctx context.Context, threadID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return f.postErr
	}
	f.posted = append(f.posted, text)
	return nil
}

func (f *fakeProvider) ListMessages(ctx context.Context, threadID, runID string) ([]ThreadMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listMessagesErr != nil {
		return nil, f.listMessagesErr
	}
	var out []ThreadMessage
	for _, m := range f.messages {
		if runID == "" || m.RunID == runID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeProvider) CreateRun(ctx context.Context, threadID, assistantID string) (*Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createRunErr != nil {
		return nil, f.createRunErr
	}
	f.nextRun++
	id := fmt.Sprintf("run_%d", f.nextRun)
	f.calls = append(f.calls, "create "+id)
	return &Run{ID: id, ThreadID: threadID, AssistantID: assistantID, Status: RunStatusQueued}, nil
}

func (f *fakeProvider) RetrieveRun(ctx context.Context, threadID, runID string) (*Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retrieve[runID]++
	f.calls = append(f.calls, "retrieve "+runID)
	steps := f.scripts[runID]
	if len(steps) == 0 {
		return nil, fmt.Errorf("unknown run %s", runID)
	}
	idx := f.retrieve[runID] - 1
	if idx >= len(steps) {
		idx = len(steps) - 1
	}
	run := steps[idx]
	return &run, nil
}

func (f *fakeProvider) CancelRun(ctx context.Context, threadID, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, runID)
	f.calls = append(f.calls, "cancel "+runID)
	if err := f.cancelErr[runID]; err != nil {
		return err
	}
	if _, ok := f.scripts[runID]; !ok {
		f.scripts[runID] = []Run{{ID: runID, ThreadID: threadID, Status: RunStatusCancelled}}
	}
	return nil
}

func (f *fakeProvider) ListRuns(ctx context.Context, threadID string) ([]Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Run(nil), f.existing...), nil
}

func (f *fakeProvider) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, append([]ToolOutput(nil), outputs...))
	return nil
}

// syncQueue runs submitted jobs inline.
type syncQueue struct {
	mu    sync.Mutex
	kinds []string
	errs  []error
}

func (q *syncQueue) Submit(kind string, fn jobs.Func) (string, error) {
	err := fn(context.Background())
	q.mu.Lock()
	defer q.mu.Unlock()
	q.kinds = append(q.kinds, kind)
	q.errs = append(q.errs, err)
	return fmt.Sprintf("job_%d", len(q.kinds)), nil
}

// instantPoll polls without sleeping.
func instantPoll(maxAttempts int) PollerConfig {
	return PollerConfig{MaxAttempts: maxAttempts, Policy: backoff.Fixed{}}
}
