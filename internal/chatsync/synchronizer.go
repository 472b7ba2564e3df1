package chatsync

import (
	"context"
	"sync"
	"time"

	"chatline/internal/api"
	"chatline/internal/media"

	"github.com/sirupsen/logrus"
)

type State int

const (
	Idle State = iota
	Loading
	Synced
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Synced:
		return "synced"
	default:
		return "idle"
	}
}

// View is an immutable snapshot of the displayed conversation. A new View is
// published for every visible change; Entries is never mutated after publish.
type View struct {
	ConversationID int64
	Epoch          uint64
	Version        uint64
	State          State
	Entries        []Entry
	Err            error
}

type Fetcher interface {
	Messages(ctx context.Context, conversationID int64) ([]api.Message, error)
}

type Preloader interface {
	PreloadAll(ctx context.Context, items []media.Item, done func(id int64, err error))
}

// Cache receives every successfully fetched list.
type Cache interface {
	CacheMessages(ctx context.Context, conversationID int64, msgs []api.Message) error
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

type Option func(*Synchronizer)

func WithInterval(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithDetector(d Detector) Option {
	return func(s *Synchronizer) {
		if d != nil {
			s.detect = d
		}
	}
}

func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(s *Synchronizer) { s.newTicker = newTicker }
}

func WithCache(c Cache) Option {
	return func(s *Synchronizer) { s.cache = c }
}

func WithLogger(l *logrus.Logger) Option {
	return func(s *Synchronizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// Synchronizer keeps one conversation's message list fresh by polling.
//
// Every selection starts a new epoch. Fetch and preload completions carry the
// epoch they were dispatched under and are dropped when it is no longer
// current, so a late response for a previous conversation never reaches the
// view.
type Synchronizer struct {
	fetcher   Fetcher
	preloader Preloader
	detect    Detector
	interval  time.Duration
	newTicker func(time.Duration) Ticker
	cache     Cache
	logger    *logrus.Logger

	mu         sync.Mutex
	view       View
	epoch      uint64
	cancel     context.CancelFunc
	refresh    chan struct{}
	fetchSeq   uint64
	appliedSeq uint64
	subs       map[int]chan View
	nextSub    int
	closed     bool

	wg sync.WaitGroup
}

func New(fetcher Fetcher, preloader Preloader, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		fetcher:   fetcher,
		preloader: preloader,
		detect:    HeuristicChanged,
		interval:  10 * time.Second,
		newTicker: func(d time.Duration) Ticker { return timeTicker{t: time.NewTicker(d)} },
		logger:    logrus.StandardLogger(),
		subs:      make(map[int]chan View),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe returns a channel that always holds the newest View. Older views
// are dropped when the reader falls behind.
func (s *Synchronizer) Subscribe() (<-chan View, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan View, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.view

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Synchronizer) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Select makes conversationID the active one and starts loading it. Any
// previous selection is cancelled first.
func (s *Synchronizer) Select(conversationID int64) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.stopLocked()
	s.epoch++
	epoch := s.epoch
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.refresh = make(chan struct{}, 1)
	refresh := s.refresh
	s.fetchSeq, s.appliedSeq = 0, 0
	s.publishLocked(View{ConversationID: conversationID, Epoch: epoch, State: Loading})
	// Counted under the lock so Close cannot reach wg.Wait first.
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"epoch":           epoch,
	}).Debug("conversation selected")

	go s.run(ctx, epoch, conversationID, refresh)
}

// Refresh asks for an immediate background fetch of the active conversation.
func (s *Synchronizer) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refresh == nil || s.view.State == Idle {
		return
	}
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// Deselect stops polling and returns to Idle.
func (s *Synchronizer) Deselect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.stopLocked()
	s.epoch++
	s.publishLocked(View{Epoch: s.epoch, State: Idle})
}

// Close stops all work, waits for background goroutines and closes every
// subscriber channel.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopLocked()
	s.epoch++
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}

func (s *Synchronizer) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.refresh = nil
}

func (s *Synchronizer) run(ctx context.Context, epoch uint64, conversationID int64, refresh <-chan struct{}) {
	defer s.wg.Done()

	s.initialLoad(ctx, epoch, conversationID)
	if ctx.Err() != nil {
		return
	}

	ticker := s.newTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.poll(ctx, epoch, conversationID)
		case <-refresh:
			s.poll(ctx, epoch, conversationID)
		}
	}
}

func (s *Synchronizer) initialLoad(ctx context.Context, epoch uint64, conversationID int64) {
	seq, ok := s.dispatch(epoch)
	if !ok {
		return
	}
	msgs, err := s.fetcher.Messages(ctx, conversationID)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.acceptLocked(epoch, seq) {
			return
		}
		s.logger.WithError(err).WithField("conversation_id", conversationID).Warn("initial message fetch failed")
		s.publishLocked(View{ConversationID: conversationID, Epoch: epoch, State: Synced, Err: err})
		return
	}

	entries := Prepare(msgs)
	if items := pendingMedia(entries, nil); len(items) > 0 {
		var mu sync.Mutex
		settled := make(map[int64]error, len(items))
		s.preloader.PreloadAll(ctx, items, func(id int64, err error) {
			mu.Lock()
			settled[id] = err
			mu.Unlock()
		})
		for i := range entries {
			err, ok := settled[entries[i].Message.ID]
			if !ok {
				continue
			}
			entries[i].Loading = false
			entries[i].LoadFailed = err != nil
		}
	}

	s.mu.Lock()
	if !s.acceptLocked(epoch, seq) {
		s.mu.Unlock()
		return
	}
	s.publishLocked(View{ConversationID: conversationID, Epoch: epoch, State: Synced, Entries: entries})
	s.mu.Unlock()

	s.store(ctx, conversationID, msgs)
}

func (s *Synchronizer) poll(ctx context.Context, epoch uint64, conversationID int64) {
	seq, ok := s.dispatch(epoch)
	if !ok {
		return
	}
	msgs, err := s.fetcher.Messages(ctx, conversationID)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.WithError(err).WithField("conversation_id", conversationID).Warn("background message fetch failed")
		}
		return
	}

	s.mu.Lock()
	if !s.acceptLocked(epoch, seq) {
		s.mu.Unlock()
		return
	}
	displayed := s.view.Entries
	if !s.detect(displayed, msgs) {
		s.mu.Unlock()
		return
	}
	merged := Merge(displayed, msgs)
	pending := pendingMedia(merged, displayed)
	s.publishLocked(View{ConversationID: conversationID, Epoch: epoch, State: Synced, Entries: merged})
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"messages":        len(msgs),
		"new_media":       len(pending),
	}).Debug("message list updated")

	s.store(ctx, conversationID, msgs)

	if len(pending) == 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.preloader.PreloadAll(ctx, pending, func(id int64, err error) {
			s.settle(epoch, id, err)
		})
	}()
}

// settle records the outcome of one background preload on the current view.
func (s *Synchronizer) settle(epoch uint64, messageID int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return
	}
	idx := -1
	for i, e := range s.view.Entries {
		if e.Message.ID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 || !s.view.Entries[idx].Loading {
		return
	}
	entries := make([]Entry, len(s.view.Entries))
	copy(entries, s.view.Entries)
	entries[idx].Loading = false
	entries[idx].LoadFailed = err != nil

	next := s.view
	next.Entries = entries
	s.publishLocked(next)
}

func (s *Synchronizer) dispatch(epoch uint64) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return 0, false
	}
	s.fetchSeq++
	return s.fetchSeq, true
}

func (s *Synchronizer) acceptLocked(epoch, seq uint64) bool {
	if s.epoch != epoch || seq <= s.appliedSeq {
		return false
	}
	s.appliedSeq = seq
	return true
}

func (s *Synchronizer) publishLocked(v View) {
	v.Version = s.view.Version + 1
	s.view = v
	for _, ch := range s.subs {
		select {
		case ch <- v:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

func (s *Synchronizer) store(ctx context.Context, conversationID int64, msgs []api.Message) {
	if s.cache == nil {
		return
	}
	if err := s.cache.CacheMessages(ctx, conversationID, msgs); err != nil && ctx.Err() == nil {
		s.logger.WithError(err).WithField("conversation_id", conversationID).Warn("cache messages failed")
	}
}

// pendingMedia lists entries still loading that were not already loading in
// prior, so carried-over preloads are not restarted.
func pendingMedia(entries, prior []Entry) []media.Item {
	known := make(map[int64]struct{}, len(prior))
	for _, e := range prior {
		known[e.Message.ID] = struct{}{}
	}
	var out []media.Item
	for _, e := range entries {
		if !e.Loading {
			continue
		}
		if _, ok := known[e.Message.ID]; ok {
			continue
		}
		out = append(out, media.Item{ID: e.Message.ID, URL: e.Message.MediaURL})
	}
	return out
}
