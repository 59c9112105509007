package chatsync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketchat/internal/app/dto"
	"marketchat/internal/infra/bus"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateSyncing      State = "syncing"
	StateLive         State = "live"
)

// Snapshot is the client-side cache of one user's inbox. It is a read
// model only: nothing here is ever used as a precondition for a mutation.
type Snapshot struct {
	Rows        map[string]dto.ConversationRow
	UnreadTotal int64
	SyncedAt    time.Time
}

func (s Snapshot) clone() Snapshot {
	rows := make(map[string]dto.ConversationRow, len(s.Rows))
	for k, v := range s.Rows {
		rows[k] = v
	}
	return Snapshot{Rows: rows, UnreadTotal: s.UnreadTotal, SyncedAt: s.SyncedAt}
}

// Options configure a session.
type Options struct {
	PollInterval   time.Duration
	ReconnectDelay time.Duration
	SendBackoff    []time.Duration
	PageLimit      int
	// OnState and OnSnapshot are invoked from the session loop; they must
	// not block.
	OnState    func(State)
	OnSnapshot func(Snapshot)
	KeyGen     func() string
	Logger     *slog.Logger
}

// Session keeps one signed-in user's view consistent with the server. It
// follows the sync contract: full fetch on every entry to live, change
// events treated purely as refresh hints, and a poll ticker correcting for
// anything the stream missed.
type Session struct {
	backend Backend
	connect ConnectFunc
	opts    Options

	mu          sync.Mutex
	state       State
	snapshot    Snapshot
	queuedReads map[string]struct{}
	refreshes   map[string]*refreshSlot
}

func NewSession(backend Backend, connect ConnectFunc, opts Options) *Session {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}
	if len(opts.SendBackoff) == 0 {
		opts.SendBackoff = []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = 100
	}
	if opts.KeyGen == nil {
		opts.KeyGen = uuid.NewString
	}
	return &Session{
		backend:     backend,
		connect:     connect,
		opts:        opts,
		state:       StateDisconnected,
		snapshot:    Snapshot{Rows: map[string]dto.ConversationRow{}},
		queuedReads: map[string]struct{}{},
		refreshes:   map[string]*refreshSlot{},
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.clone()
}

// Run drives the state machine until the context is cancelled (sign-out).
// On exit the machine resets to disconnected.
func (s *Session) Run(ctx context.Context) error {
	defer s.setState(StateDisconnected)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.setState(StateSyncing)
		events, err := s.connect(ctx)
		if err != nil {
			s.logWarn("stream connect failed", err)
			if !sleep(ctx, s.opts.ReconnectDelay) {
				return ctx.Err()
			}
			continue
		}
		if err := s.fullSync(ctx); err != nil {
			s.logWarn("full sync failed", err)
			if !sleep(ctx, s.opts.ReconnectDelay) {
				return ctx.Err()
			}
			continue
		}
		s.setState(StateLive)
		s.replayQueuedReads(ctx)
		if !s.liveLoop(ctx, events) {
			return ctx.Err()
		}
	}
}

// liveLoop consumes stream events and the poll ticker while live. Returns
// false when the context was cancelled, true when the stream dropped and
// the caller should reconnect.
func (s *Session) liveLoop(ctx context.Context, events <-chan bus.Event) bool {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case event, open := <-events:
			if !open {
				return true
			}
			s.handleEvent(ctx, event)
		case <-ticker.C:
			// Poll fallback for missed events. Queued mark-read intents
			// ride the same tick so a transient failure while live is
			// retried even when the stream never drops.
			s.replayQueuedReads(ctx)
			if err := s.fullSync(ctx); err != nil {
				s.logWarn("poll sync failed", err)
			}
		}
	}
}

// handleEvent treats the notification as a hint only: the affected row is
// re-derived from the server, never patched from the event payload.
func (s *Session) handleEvent(ctx context.Context, event bus.Event) {
	if event.ConversationID == "" {
		return
	}
	s.RefreshConversation(ctx, event.ConversationID)
	if event.Kind == bus.KindMessageInserted {
		s.refreshUnread(ctx)
	}
}

// fullSync re-derives the whole snapshot from the server. Used on every
// syncing → live transition and by the poll ticker.
func (s *Session) fullSync(ctx context.Context) error {
	rows := map[string]dto.ConversationRow{}
	cursor := ""
	for {
		page, err := s.backend.Inbox(ctx, s.opts.PageLimit, cursor)
		if err != nil {
			return err
		}
		for _, row := range page.Items {
			rows[row.ID] = row
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	summary, err := s.backend.Unread(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.snapshot = Snapshot{Rows: rows, UnreadTotal: summary.Total, SyncedAt: time.Now()}
	snap := s.snapshot.clone()
	s.mu.Unlock()
	s.notifySnapshot(snap)
	return nil
}

func (s *Session) refreshUnread(ctx context.Context) {
	summary, err := s.backend.Unread(ctx)
	if err != nil {
		s.logWarn("unread refresh failed", err)
		return
	}
	s.mu.Lock()
	s.snapshot.UnreadTotal = summary.Total
	snap := s.snapshot.clone()
	s.mu.Unlock()
	s.notifySnapshot(snap)
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	changed := s.state != next
	s.state = next
	s.mu.Unlock()
	if changed && s.opts.OnState != nil {
		s.opts.OnState(next)
	}
}

func (s *Session) notifySnapshot(snap Snapshot) {
	if s.opts.OnSnapshot != nil {
		s.opts.OnSnapshot(snap)
	}
}

func (s *Session) logWarn(msg string, err error) {
	if s.opts.Logger != nil {
		s.opts.Logger.Warn(msg, "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
