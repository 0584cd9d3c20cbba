package router_test

import (
	"context"
	"sync"

	"github.com/icdev-platform/dispatch/internal/model"
	"github.com/icdev-platform/dispatch/internal/store"
)

// In-memory PipelineRunStore with the same atomicity contract as the
// real one: one active run per session key, guarded under a mutex.
type fakeRunStore struct {
	mu       sync.Mutex
	active   map[string]*model.PipelineRun
	finished []model.PipelineRun

	createErr error
	getErr    error
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{active: make(map[string]*model.PipelineRun)}
}

func (f *fakeRunStore) CreateIfIdle(ctx context.Context, run *model.PipelineRun) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return false, f.createErr
	}
	if _, occupied := f.active[run.SessionKey]; occupied {
		return false, nil
	}
	clone := *run
	f.active[run.SessionKey] = &clone
	return true, nil
}

func (f *fakeRunStore) GetActive(ctx context.Context, sessionKey string) (*model.PipelineRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	run, ok := f.active[sessionKey]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *run
	return &clone, nil
}

func (f *fakeRunStore) GetByRunID(ctx context.Context, runID string) (*model.PipelineRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, run := range f.active {
		if run.RunID == runID {
			clone := *run
			return &clone, nil
		}
	}
	for i := range f.finished {
		if f.finished[i].RunID == runID {
			clone := f.finished[i]
			return &clone, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeRunStore) Finish(ctx context.Context, runID string, status model.RunStatus) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, run := range f.active {
		if run.RunID == runID {
			run.Status = status
			f.finished = append(f.finished, *run)
			delete(f.active, key)
			return key, nil
		}
	}
	return "", store.ErrNotFound
}

func (f *fakeRunStore) ListBySessionKey(ctx context.Context, sessionKey string, limit int32) ([]model.PipelineRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var runs []model.PipelineRun
	if run, ok := f.active[sessionKey]; ok {
		runs = append(runs, *run)
	}
	for i := range f.finished {
		if f.finished[i].SessionKey == sessionKey {
			runs = append(runs, f.finished[i])
		}
	}
	return runs, nil
}

// In-memory EventQueueStore, strict FIFO per session key.
type fakeQueueStore struct {
	mu     sync.Mutex
	events []model.QueuedEvent
	nextID int64

	enqueueErr error
}

func newFakeQueueStore() *fakeQueueStore {
	return &fakeQueueStore{}
}

func (f *fakeQueueStore) EnqueueIfBelow(ctx context.Context, sessionKey string, payload []byte, max int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return false, f.enqueueErr
	}
	pending := 0
	for i := range f.events {
		if f.events[i].SessionKey == sessionKey && f.events[i].Status == model.QueuedEventPending {
			pending++
		}
	}
	if pending >= max {
		return false, nil
	}
	f.nextID++
	f.events = append(f.events, model.QueuedEvent{
		ID:         f.nextID,
		SessionKey: sessionKey,
		Payload:    payload,
		Status:     model.QueuedEventPending,
	})
	return true, nil
}

func (f *fakeQueueStore) ClaimAll(ctx context.Context, sessionKey string) ([]model.QueuedEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var claimed []model.QueuedEvent
	for i := range f.events {
		if f.events[i].SessionKey == sessionKey && f.events[i].Status == model.QueuedEventPending {
			f.events[i].Status = model.QueuedEventProcessing
			claimed = append(claimed, f.events[i])
		}
	}
	return claimed, nil
}

func (f *fakeQueueStore) Depth(ctx context.Context, sessionKey string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	depth := 0
	for i := range f.events {
		if f.events[i].SessionKey == sessionKey && f.events[i].Status == model.QueuedEventPending {
			depth++
		}
	}
	return depth, nil
}

func (f *fakeQueueStore) MarkProcessed(ctx context.Context, id int64) error {
	return f.setStatus(id, model.QueuedEventProcessed)
}

func (f *fakeQueueStore) MarkDropped(ctx context.Context, id int64) error {
	return f.setStatus(id, model.QueuedEventDropped)
}

func (f *fakeQueueStore) setStatus(id int64, status model.QueuedEventStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.events {
		if f.events[i].ID == id {
			f.events[i].Status = status
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeQueueStore) statuses(sessionKey string) []model.QueuedEventStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.QueuedEventStatus
	for i := range f.events {
		if f.events[i].SessionKey == sessionKey {
			out = append(out, f.events[i].Status)
		}
	}
	return out
}

// In-memory ConversationStore with external-id turn dedup.
type fakeConvStore struct {
	mu       sync.Mutex
	sessions map[int64]*model.ConversationSession
	turns    map[int64][]model.ConversationTurn
}

func newFakeConvStore() *fakeConvStore {
	return &fakeConvStore{
		sessions: make(map[int64]*model.ConversationSession),
		turns:    make(map[int64][]model.ConversationTurn),
	}
}

func (f *fakeConvStore) CreateSession(ctx context.Context, session *model.ConversationSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.SessionKey == session.SessionKey && s.Status == model.SessionActive {
			return store.ErrConflict
		}
	}
	clone := *session
	f.sessions[session.ID] = &clone
	return nil
}

func (f *fakeConvStore) GetSession(ctx context.Context, id int64) (*model.ConversationSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *s
	return &clone, nil
}

func (f *fakeConvStore) GetActiveSession(ctx context.Context, sessionKey string) (*model.ConversationSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.SessionKey == sessionKey && s.Status == model.SessionActive {
			clone := *s
			return &clone, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeConvStore) CloseSession(ctx context.Context, id int64, status model.SessionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	s.Status = status
	return nil
}

func (f *fakeConvStore) AppendTurn(ctx context.Context, turn *model.ConversationTurn) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if turn.ExternalID != "" {
		for _, t := range f.turns[turn.SessionID] {
			if t.ExternalID == turn.ExternalID {
				return false, nil
			}
		}
	}
	turn.TurnNumber = len(f.turns[turn.SessionID]) + 1
	f.turns[turn.SessionID] = append(f.turns[turn.SessionID], *turn)
	return true, nil
}

func (f *fakeConvStore) TouchSession(ctx context.Context, id int64, totalTurns int, lastAction string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		s.TotalTurns = totalTurns
		s.LastAgentAction = lastAction
	}
	return nil
}

func (f *fakeConvStore) ListTurns(ctx context.Context, sessionID int64) ([]model.ConversationTurn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ConversationTurn(nil), f.turns[sessionID]...), nil
}

type launchCall struct {
	workflow   string
	sessionKey string
	runID      string
	platform   string
}

type fakeLauncher struct {
	mu       sync.Mutex
	launches []launchCall
	err      error
}

func (f *fakeLauncher) Launch(ctx context.Context, workflow, sessionKey, runID, platform string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launches = append(f.launches, launchCall{
		workflow:   workflow,
		sessionKey: sessionKey,
		runID:      runID,
		platform:   platform,
	})
	return f.err
}

type fakePoster struct {
	mu     sync.Mutex
	posted []string
	err    error
}

func (f *fakePoster) Post(ctx context.Context, ev *model.Event, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, text)
	return "", f.err
}
