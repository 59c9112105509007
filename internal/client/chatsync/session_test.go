package chatsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketchat/internal/app/dto"
	domainchat "marketchat/internal/domain/chat"
	"marketchat/internal/infra/bus"
)

type fakeBackend struct {
	mu        sync.Mutex
	rows      []dto.ConversationRow
	unread    dto.UnreadSummary
	inboxGate chan struct{}
	inboxN    int
	sendErrs  []error
	sendKeys  []string
	readIDs   []string
	readErr   error
}

func (b *fakeBackend) Inbox(ctx context.Context, limit int, cursor string) (*dto.ConversationList, error) {
	b.mu.Lock()
	gate := b.inboxGate
	b.inboxN++
	rows := append([]dto.ConversationRow(nil), b.rows...)
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &dto.ConversationList{Items: rows}, nil
}

func (b *fakeBackend) Messages(ctx context.Context, conversationID, cursor string, limit int) (*dto.ChatMessageList, error) {
	return &dto.ChatMessageList{}, nil
}

func (b *fakeBackend) Unread(ctx context.Context) (*dto.UnreadSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	summary := b.unread
	return &summary, nil
}

func (b *fakeBackend) Send(ctx context.Context, conversationID, body, idempotencyKey string) (*dto.ChatMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendKeys = append(b.sendKeys, idempotencyKey)
	if len(b.sendErrs) > 0 {
		err := b.sendErrs[0]
		b.sendErrs = b.sendErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &dto.ChatMessage{ID: "msg-1", ConversationID: conversationID, Body: body}, nil
}

func (b *fakeBackend) MarkRead(ctx context.Context, conversationID string) (*dto.MarkReadResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readErr != nil {
		return nil, b.readErr
	}
	b.readIDs = append(b.readIDs, conversationID)
	return &dto.MarkReadResult{}, nil
}

func (b *fakeBackend) inboxCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inboxN
}

func (b *fakeBackend) setReadErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readErr = err
}

func (b *fakeBackend) markedRead() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.readIDs...)
}

func row(id string, at time.Time) dto.ConversationRow {
	return dto.ConversationRow{ID: id, LastMessageAt: at}
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
	liveCh chan struct{}
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{liveCh: make(chan struct{}, 8)}
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
	if s == StateLive {
		select {
		case r.liveCh <- struct{}{}:
		default:
		}
	}
}

func (r *stateRecorder) seen() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func (r *stateRecorder) awaitLive(t *testing.T) {
	t.Helper()
	select {
	case <-r.liveCh:
	case <-time.After(2 * time.Second):
		t.Fatal("session never reached live")
	}
}

func testOptions(rec *stateRecorder) Options {
	return Options{
		PollInterval:   time.Hour,
		ReconnectDelay: 5 * time.Millisecond,
		SendBackoff:    []time.Duration{time.Millisecond, time.Millisecond},
		OnState:        rec.record,
	}
}

func TestSessionReachesLiveAfterFullSync(t *testing.T) {
	backend := &fakeBackend{
		rows:   []dto.ConversationRow{row("conv-1", time.Now())},
		unread: dto.UnreadSummary{Total: 2},
	}
	rec := newStateRecorder()
	events := make(chan bus.Event)
	session := NewSession(backend, func(ctx context.Context) (<-chan bus.Event, error) {
		return events, nil
	}, testOptions(rec))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = session.Run(ctx)
	}()
	rec.awaitLive(t)

	snap := session.Snapshot()
	require.Contains(t, snap.Rows, "conv-1")
	require.EqualValues(t, 2, snap.UnreadTotal)

	cancel()
	<-done
	require.Equal(t, StateDisconnected, session.State())
	require.Equal(t, []State{StateSyncing, StateLive, StateDisconnected}, rec.seen())
}

func TestSessionResyncsWhenStreamDrops(t *testing.T) {
	backend := &fakeBackend{}
	rec := newStateRecorder()
	first := make(chan bus.Event)
	second := make(chan bus.Event)
	streams := []chan bus.Event{first, second}
	var connects int
	var mu sync.Mutex
	session := NewSession(backend, func(ctx context.Context) (<-chan bus.Event, error) {
		mu.Lock()
		defer mu.Unlock()
		ch := streams[connects%len(streams)]
		connects++
		return ch, nil
	}, testOptions(rec))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = session.Run(ctx) }()
	rec.awaitLive(t)

	close(first)
	rec.awaitLive(t)

	states := rec.seen()
	require.GreaterOrEqual(t, len(states), 4)
	require.Equal(t, []State{StateSyncing, StateLive, StateSyncing, StateLive}, states[:4])
}

func TestMarkReadQueuedOfflineAndReplayedOnLive(t *testing.T) {
	backend := &fakeBackend{}
	rec := newStateRecorder()
	events := make(chan bus.Event)
	session := NewSession(backend, func(ctx context.Context) (<-chan bus.Event, error) {
		return events, nil
	}, testOptions(rec))

	// Not running yet: the intent is queued, never dropped.
	require.NoError(t, session.MarkRead(context.Background(), "conv-1"))
	require.NoError(t, session.MarkRead(context.Background(), "conv-2"))
	require.NoError(t, session.MarkRead(context.Background(), "conv-1"))
	require.ElementsMatch(t, []string{"conv-1", "conv-2"}, session.QueuedReads())
	require.Empty(t, backend.markedRead())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = session.Run(ctx) }()
	rec.awaitLive(t)

	require.Eventually(t, func() bool {
		return len(backend.markedRead()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.ElementsMatch(t, []string{"conv-1", "conv-2"}, backend.markedRead())
	require.Empty(t, session.QueuedReads())
}

func TestMarkReadRequeuedOnTransientFailure(t *testing.T) {
	backend := &fakeBackend{readErr: errors.New("store down")}
	rec := newStateRecorder()
	session := NewSession(backend, nil, testOptions(rec))
	session.setState(StateLive)

	require.NoError(t, session.MarkRead(context.Background(), "conv-1"))
	require.Equal(t, []string{"conv-1"}, session.QueuedReads())
}

func TestSendRetriesTransientWithOneIdempotencyKey(t *testing.T) {
	backend := &fakeBackend{sendErrs: []error{errors.New("timeout"), errors.New("timeout"), nil}}
	rec := newStateRecorder()
	session := NewSession(backend, nil, testOptions(rec))

	msg, err := session.Send(context.Background(), "conv-1", "hello")
	require.NoError(t, err)
	require.Equal(t, "msg-1", msg.ID)

	require.Len(t, backend.sendKeys, 3)
	require.Equal(t, backend.sendKeys[0], backend.sendKeys[1])
	require.Equal(t, backend.sendKeys[1], backend.sendKeys[2])
	require.NotEmpty(t, backend.sendKeys[0])
}

func TestSendDoesNotRetryPermanentFailure(t *testing.T) {
	backend := &fakeBackend{sendErrs: []error{domainchat.ErrBlocked}}
	rec := newStateRecorder()
	session := NewSession(backend, nil, testOptions(rec))

	_, err := session.Send(context.Background(), "conv-1", "hello")
	require.Error(t, err)
	require.Len(t, backend.sendKeys, 1)
}

func TestRefreshCoalescesConcurrentRequests(t *testing.T) {
	gate := make(chan struct{})
	backend := &fakeBackend{
		rows:      []dto.ConversationRow{row("conv-1", time.Now())},
		inboxGate: gate,
	}
	rec := newStateRecorder()
	session := NewSession(backend, nil, testOptions(rec))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session.RefreshConversation(context.Background(), "conv-1")
		}()
	}
	require.Eventually(t, func() bool {
		return backend.inboxCalls() == 1
	}, time.Second, time.Millisecond)
	close(gate)
	wg.Wait()
	require.Equal(t, 1, backend.inboxCalls())
	require.Contains(t, session.Snapshot().Rows, "conv-1")
}

func TestRefreshStaleResultNeverOverwritesFresher(t *testing.T) {
	fresh := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	backend := &fakeBackend{rows: []dto.ConversationRow{row("conv-1", fresh)}}
	rec := newStateRecorder()
	session := NewSession(backend, nil, testOptions(rec))
	require.NoError(t, session.fullSync(context.Background()))

	// The backend now serves a stale view of the same row.
	backend.mu.Lock()
	backend.rows = []dto.ConversationRow{row("conv-1", fresh.Add(-time.Hour))}
	backend.mu.Unlock()

	session.RefreshConversation(context.Background(), "conv-1")
	require.True(t, session.Snapshot().Rows["conv-1"].LastMessageAt.Equal(fresh))
}

func TestRefreshDropsVanishedConversation(t *testing.T) {
	backend := &fakeBackend{rows: []dto.ConversationRow{row("conv-1", time.Now())}}
	rec := newStateRecorder()
	session := NewSession(backend, nil, testOptions(rec))
	require.NoError(t, session.fullSync(context.Background()))

	backend.mu.Lock()
	backend.rows = nil
	backend.mu.Unlock()

	session.RefreshConversation(context.Background(), "conv-1")
	require.NotContains(t, session.Snapshot().Rows, "conv-1")
}

func TestQueuedReadReplayedFromPollTick(t *testing.T) {
	backend := &fakeBackend{readErr: errors.New("store down")}
	rec := newStateRecorder()
	opts := testOptions(rec)
	opts.PollInterval = 10 * time.Millisecond
	events := make(chan bus.Event)
	session := NewSession(backend, func(ctx context.Context) (<-chan bus.Event, error) {
		return events, nil
	}, opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = session.Run(ctx) }()
	rec.awaitLive(t)

	// Transient failure while live: the intent parks in the queue.
	require.NoError(t, session.MarkRead(context.Background(), "conv-1"))
	require.Equal(t, []string{"conv-1"}, session.QueuedReads())
	require.Empty(t, backend.markedRead())

	// The stream never drops; the poll tick alone must retry the intent
	// once the backend recovers.
	backend.setReadErr(nil)
	require.Eventually(t, func() bool {
		return len(backend.markedRead()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"conv-1"}, backend.markedRead())
	require.Empty(t, session.QueuedReads())
}

func TestDuplicateInsertHintLeavesSnapshotUnchanged(t *testing.T) {
	at := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	backend := &fakeBackend{
		rows:   []dto.ConversationRow{row("conv-1", at)},
		unread: dto.UnreadSummary{Total: 1},
	}
	rec := newStateRecorder()
	session := NewSession(backend, nil, testOptions(rec))
	require.NoError(t, session.fullSync(context.Background()))

	event := bus.Event{
		Kind:           bus.KindMessageInserted,
		ConversationID: "conv-1",
		Participants:   []string{"buyer", "seller"},
		OccurredAt:     at,
	}
	session.handleEvent(context.Background(), event)
	once := session.Snapshot()
	session.handleEvent(context.Background(), event)
	twice := session.Snapshot()

	require.Equal(t, once.Rows, twice.Rows)
	require.Equal(t, once.UnreadTotal, twice.UnreadTotal)
	require.True(t, twice.Rows["conv-1"].LastMessageAt.Equal(at))
	require.EqualValues(t, 1, twice.UnreadTotal)
}
