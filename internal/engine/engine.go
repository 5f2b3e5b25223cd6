// Package engine implements the per-document sync coordinator: the single
// actor that owns a document's in-memory item set and reconciles it against
// the remote store under unreliable connectivity and concurrent writers.
//
// One Engine is constructed when a document is opened and torn down when the
// user navigates away; the Session type manages that lifecycle and tags each
// engine with a monotonically increasing epoch so stale asynchronous results
// from an abandoned document can never touch the state of the next one.
//
// All mutation handling, debounce timers, and network completions for a
// document are serialized through the engine's run loop. Network calls
// themselves run on short-lived goroutines so mutations stay responsive while
// a push is in flight, but their results re-enter the loop and are applied in
// order. Pushes are single-flight with coalescing: a mutation that arrives
// mid-push marks "one more sync needed" rather than queueing a request per
// event.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nwhit/corkboard/internal/broadcast"
	"github.com/nwhit/corkboard/internal/cache"
	"github.com/nwhit/corkboard/internal/remote"
	"github.com/nwhit/corkboard/pkg/board"
)

// Status is the tri-state sync indicator, the only signal this subsystem
// surfaces to the user.
type Status string

const (
	// StatusOffline means the remote store is unreachable or not configured.
	// Local edits keep accumulating and are flushed on reconnect.
	StatusOffline Status = "offline"

	// StatusSyncing means a reconciliation is in progress.
	StatusSyncing Status = "syncing"

	// StatusSynced means the local state matches the last known remote state.
	StatusSynced Status = "synced"
)

// ErrClosed is returned by engine methods after Close.
var ErrClosed = errors.New("engine is closed")

// Config tunes the engine's timers. Zero values take the defaults; tests
// shrink them.
type Config struct {
	// SaveDebounce is how long mutation activity must be quiet before the
	// item set is written to the local cache.
	SaveDebounce time.Duration

	// PushDebounce is how long mutation activity must be quiet before a push
	// to the remote store is attempted.
	PushDebounce time.Duration

	// PollInterval is how often the remote store is polled for versions
	// newer than the locally known one.
	PollInterval time.Duration

	// Clock produces logical millisecond timestamps for local mutations.
	Clock *board.Clock
}

func (c Config) withDefaults() Config {
	if c.SaveDebounce == 0 {
		c.SaveDebounce = 250 * time.Millisecond
	}
	if c.PushDebounce == 0 {
		c.PushDebounce = 500 * time.Millisecond
	}
	if c.PollInterval == 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.Clock == nil {
		c.Clock = board.NewClock()
	}
	return c
}

// Deps are the engine's collaborators. Store may be nil, in which case the
// session is permanently offline — a legitimate configuration, not a fault.
// Bus may be nil; convergence then rides on the poll loop alone. Cache may be
// nil for purely ephemeral sessions.
type Deps struct {
	Cache *cache.Cache
	Store remote.Store
	Bus   broadcast.Broadcaster
	Log   *zap.Logger
}

// State is a point-in-time view of the engine for queries.
type State struct {
	Items   []board.Item
	Version int64
	Status  Status
}

type mutationOp int

const (
	opUpsert mutationOp = iota
	opDelete
)

type mutation struct {
	op   mutationOp
	item board.Item
	id   string
}

type pushResult struct {
	epoch int64
	snap  board.Snapshot
	err   error
}

type pullResult struct {
	epoch int64
	snap  board.Snapshot
	err   error
}

// Engine is the sync coordinator for one open document.
type Engine struct {
	documentID string
	epoch      int64

	cfg  Config
	deps Deps
	log  *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	startMu sync.Mutex

	muts    chan mutation
	queries chan chan State
	flushes chan chan struct{}
	resumes chan struct{}

	// Everything below is owned by the run loop.
	items      []board.Item
	version    int64
	status     Status
	dirty      bool
	pushing    bool
	pushQueued bool
	pulling    bool

	saveTimer *time.Timer
	pushTimer *time.Timer
	poll      *time.Ticker

	pushDone chan pushResult
	pullDone chan pullResult

	sub *broadcast.Subscription
}

// New creates an engine for one document. The epoch tags every asynchronous
// result this engine produces; Session assigns it, standalone callers can
// pass 0.
func New(documentID string, epoch int64, deps Deps, cfg Config) *Engine {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}

	status := StatusSyncing
	if deps.Store == nil {
		status = StatusOffline
	}

	return &Engine{
		documentID: documentID,
		epoch:      epoch,
		cfg:        cfg.withDefaults(),
		deps:       deps,
		log: deps.Log.With(
			zap.String("document_id", documentID),
			zap.Int64("epoch", epoch),
		),
		done:     make(chan struct{}),
		muts:     make(chan mutation, 64),
		queries:  make(chan chan State),
		flushes:  make(chan chan struct{}),
		resumes:  make(chan struct{}, 1),
		status:   status,
		pushDone: make(chan pushResult, 1),
		pullDone: make(chan pullResult, 1),
	}
}

// Start hydrates the document and begins the run loop. It must be called
// exactly once.
func (e *Engine) Start(ctx context.Context) error {
	e.startMu.Lock()
	defer e.startMu.Unlock()

	if e.started {
		return fmt.Errorf("engine already started")
	}
	e.started = true

	e.ctx, e.cancel = context.WithCancel(ctx)

	if e.deps.Bus != nil {
		sub, err := e.deps.Bus.Subscribe(e.ctx, e.documentID)
		if err != nil {
			// Broadcast is an optimization; losing it degrades to poll-only.
			e.log.Warn("broadcast subscribe failed, continuing without it", zap.Error(err))
		} else {
			e.sub = sub
		}
	}

	go e.run()
	return nil
}

// Close tears the engine down: pending cache writes are flushed, timers are
// cancelled, and any still-in-flight network result is discarded. Safe to
// call multiple times.
func (e *Engine) Close() error {
	e.startMu.Lock()
	defer e.startMu.Unlock()

	if !e.started {
		return nil
	}
	if e.cancel != nil {
		e.cancel()
	}
	<-e.done
	return nil
}

// Epoch returns the session epoch this engine was constructed with.
func (e *Engine) Epoch() int64 {
	return e.epoch
}

// DocumentID returns the document this engine owns.
func (e *Engine) DocumentID() string {
	return e.documentID
}

// Upsert creates or edits an item. The engine stamps UpdatedAt with the
// session's logical clock; any value the caller set is overwritten.
func (e *Engine) Upsert(ctx context.Context, item board.Item) error {
	if item.ID == "" {
		return fmt.Errorf("item id cannot be empty")
	}
	if err := item.Kind.Validate(); err != nil {
		return err
	}
	return e.enqueue(ctx, mutation{op: opUpsert, item: item})
}

// Delete soft-deletes an item by id. The tombstone stays in the set so later
// merges can compare timestamps against it. Deleting an unknown id is a
// no-op.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("item id cannot be empty")
	}
	return e.enqueue(ctx, mutation{op: opDelete, id: id})
}

func (e *Engine) enqueue(ctx context.Context, m mutation) error {
	select {
	case e.muts <- m:
		return nil
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current item set, version, and sync status.
func (e *Engine) State(ctx context.Context) (State, error) {
	reply := make(chan State, 1)
	select {
	case e.queries <- reply:
	case <-e.done:
		return State{}, ErrClosed
	case <-ctx.Done():
		return State{}, ctx.Err()
	}

	select {
	case st := <-reply:
		return st, nil
	case <-e.done:
		return State{}, ErrClosed
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// Flush forces any pending debounced cache write to disk now. Called when the
// hosting view becomes hidden, where a lost timer would otherwise drop edits.
func (e *Engine) Flush(ctx context.Context) error {
	ack := make(chan struct{}, 1)
	select {
	case e.flushes <- ack:
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ack:
		return nil
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resume signals regained connectivity or a return to the foreground. The
// engine proactively pushes whatever accumulated while offline instead of
// waiting for the next debounce or poll tick.
func (e *Engine) Resume() {
	select {
	case e.resumes <- struct{}{}:
	default:
	}
}

// run is the actor loop. All state below the channel declarations on Engine
// is touched only from here.
func (e *Engine) run() {
	defer close(e.done)

	e.saveTimer = newStoppedTimer()
	e.pushTimer = newStoppedTimer()
	e.poll = time.NewTicker(e.cfg.PollInterval)
	defer e.teardown()

	e.hydrate()

	var subEvents <-chan broadcast.Announcement
	var subErrors <-chan error
	if e.sub != nil {
		subEvents = e.sub.Events()
		subErrors = e.sub.Errors()
	}

	for {
		select {
		case <-e.ctx.Done():
			return

		case m := <-e.muts:
			e.applyMutation(m)

		case reply := <-e.queries:
			reply <- State{Items: e.itemsCopy(), Version: e.version, Status: e.status}

		case ack := <-e.flushes:
			e.flushSave()
			ack <- struct{}{}

		case <-e.resumes:
			e.onResume()

		case <-e.saveTimer.C:
			e.flushSave()

		case <-e.pushTimer.C:
			e.startPush()

		case <-e.poll.C:
			e.startPull()

		case res := <-e.pushDone:
			e.finishPush(res)

		case res := <-e.pullDone:
			e.finishPull(res)

		case ann, ok := <-subEvents:
			if !ok {
				subEvents = nil
				continue
			}
			e.onAnnouncement(ann)

		case err, ok := <-subErrors:
			if !ok {
				subErrors = nil
				continue
			}
			e.log.Warn("broadcast subscription error", zap.Error(err))
		}
	}
}

// hydrate loads the cached item set and, if a remote store is configured,
// merges the remote document in. Local-only edits that survive the merge are
// pushed straight back so offline work is not silently lost.
func (e *Engine) hydrate() {
	if e.deps.Cache != nil {
		e.items = e.deps.Cache.Load(e.ctx, e.documentID)
	} else {
		e.items = []board.Item{}
	}

	if e.deps.Store == nil {
		e.status = StatusOffline
		e.log.Info("opened offline, no remote store configured",
			zap.Int("cached_items", len(e.items)))
		return
	}

	e.status = StatusSyncing
	snap, err := e.deps.Store.Fetch(e.ctx, e.documentID)
	if err != nil {
		e.status = StatusOffline
		e.log.Warn("hydrate fetch failed, keeping local state", zap.Error(err))
		return
	}

	merged := board.Prune(board.Merge(snap.Items, e.items))
	e.items = merged
	e.version = snap.Version
	e.dirty = true
	e.scheduleSave()

	if board.EqualLoose(merged, snap.Items) {
		e.status = StatusSynced
		e.log.Info("hydrated", zap.Int64("version", e.version), zap.Int("items", len(e.items)))
		return
	}

	// The merge picked up local edits the remote has not seen.
	e.log.Info("hydrated with local divergence, pushing back",
		zap.Int64("version", e.version), zap.Int("items", len(e.items)))
	e.startPush()
}

func (e *Engine) applyMutation(m mutation) {
	now := e.cfg.Clock.Now()

	switch m.op {
	case opUpsert:
		item := m.item
		item.UpdatedAt = now
		item.Deleted = false
		e.upsertItem(item)

	case opDelete:
		idx := e.indexOf(m.id)
		if idx < 0 {
			return
		}
		e.items[idx].Deleted = true
		e.items[idx].UpdatedAt = now
	}

	e.items = board.Prune(e.items)
	e.dirty = true
	e.scheduleSave()

	if e.deps.Store == nil {
		return
	}

	if e.pushing {
		// Single-flight: coalesce into one follow-up push after the current
		// request settles.
		e.pushQueued = true
		return
	}
	e.status = StatusSyncing
	resetTimer(e.pushTimer, e.cfg.PushDebounce)
}

func (e *Engine) upsertItem(item board.Item) {
	if idx := e.indexOf(item.ID); idx >= 0 {
		e.items[idx] = item
		return
	}
	e.items = append(e.items, item)
}

func (e *Engine) indexOf(id string) int {
	for i := range e.items {
		if e.items[i].ID == id {
			return i
		}
	}
	return -1
}

// startPush launches the single-flight push. The request carries a pruned
// snapshot of the current items and the last observed version; a conflict is
// resolved by merging the remote's current state in and retrying exactly
// once.
func (e *Engine) startPush() {
	if e.deps.Store == nil {
		return
	}
	if e.pushing {
		e.pushQueued = true
		return
	}

	e.pushing = true
	e.status = StatusSyncing

	items := board.Prune(e.itemsCopy())
	base := e.version
	epoch := e.epoch

	go func() {
		snap, err := e.doPush(items, base)
		select {
		case e.pushDone <- pushResult{epoch: epoch, snap: snap, err: err}:
		case <-e.ctx.Done():
		}
	}()
}

func (e *Engine) doPush(items []board.Item, base int64) (board.Snapshot, error) {
	snap, err := e.deps.Store.Write(e.ctx, e.documentID, remote.WriteRequest{
		Items:       items,
		BaseVersion: base,
	})
	if err == nil {
		return snap, nil
	}

	conflict, ok := remote.AsConflict(err)
	if !ok {
		return board.Snapshot{}, err
	}

	// Expected steady-state contention: merge the remote's current items
	// with what we were trying to write and retry once with its version.
	// A second failure of any kind drops to offline rather than looping.
	e.log.Info("push conflict, merging and retrying once",
		zap.Int64("base_version", base),
		zap.Int64("remote_version", conflict.Current.Version))

	merged := board.Prune(board.Merge(conflict.Current.Items, items))
	return e.deps.Store.Write(e.ctx, e.documentID, remote.WriteRequest{
		Items:       merged,
		BaseVersion: conflict.Current.Version,
	})
}

func (e *Engine) finishPush(res pushResult) {
	e.pushing = false

	if res.epoch != e.epoch {
		e.log.Debug("discarding stale push result", zap.Int64("result_epoch", res.epoch))
		return
	}

	if res.err != nil {
		e.status = StatusOffline
		e.pushQueued = false
		e.log.Warn("push failed, going offline with local state intact", zap.Error(res.err))
		return
	}

	// Adopt the accepted snapshot as authoritative. Expressed as a merge so
	// that mutations applied while the request was in flight survive; when
	// none occurred this is exactly the server's item set.
	e.items = board.Prune(board.Merge(res.snap.Items, e.items))
	e.version = res.snap.Version
	e.status = StatusSynced
	e.dirty = true
	e.scheduleSave()

	e.log.Debug("push accepted", zap.Int64("version", e.version), zap.Int("items", len(e.items)))
	e.announce()

	if e.pushQueued {
		e.pushQueued = false
		e.startPush()
	}
}

// startPull fetches the remote document if nothing else is in flight. A pull
// only ever adopts newer state; it never pushes as a side effect.
func (e *Engine) startPull() {
	if e.deps.Store == nil || e.pushing || e.pulling {
		return
	}

	e.pulling = true
	epoch := e.epoch

	go func() {
		snap, err := e.deps.Store.Fetch(e.ctx, e.documentID)
		select {
		case e.pullDone <- pullResult{epoch: epoch, snap: snap, err: err}:
		case <-e.ctx.Done():
		}
	}()
}

func (e *Engine) finishPull(res pullResult) {
	e.pulling = false

	if res.epoch != e.epoch {
		e.log.Debug("discarding stale pull result", zap.Int64("result_epoch", res.epoch))
		return
	}

	if res.err != nil {
		e.status = StatusOffline
		e.log.Warn("poll fetch failed", zap.Error(res.err))
		return
	}

	if res.snap.Version > e.version {
		e.adoptRemote(res.snap)
		e.announce()
		return
	}

	// Contact succeeded; even with nothing new we are no longer offline.
	if !e.pushing {
		e.status = StatusSynced
	}
}

// onAnnouncement handles a sibling session's broadcast. Versions at or below
// the locally known one are ignored so a stale sibling can never regress
// state. Adopted announcements are not re-published; the payload is already
// on the channel.
func (e *Engine) onAnnouncement(ann broadcast.Announcement) {
	if ann.DocumentID != e.documentID {
		return
	}
	if ann.Version <= e.version {
		return
	}
	e.adoptRemote(board.Snapshot{
		DocumentID: ann.DocumentID,
		Items:      ann.Items,
		Version:    ann.Version,
	})
}

// adoptRemote merges a newer remote snapshot into local state, exactly as a
// poll result would be.
func (e *Engine) adoptRemote(snap board.Snapshot) {
	e.items = board.Prune(board.Merge(snap.Items, e.items))
	e.version = snap.Version
	if !e.pushing {
		e.status = StatusSynced
	}
	e.dirty = true
	e.scheduleSave()
	e.log.Debug("adopted remote snapshot", zap.Int64("version", e.version), zap.Int("items", len(e.items)))
}

func (e *Engine) onResume() {
	if e.deps.Store == nil {
		return
	}
	e.log.Debug("resume: flushing local state")
	e.startPush()
}

// announce fans the accepted state out to sibling sessions. Best-effort: a
// publish failure is logged and forgotten, the poll loop covers the gap.
func (e *Engine) announce() {
	if e.deps.Bus == nil {
		return
	}

	ann := broadcast.Announcement{
		DocumentID: e.documentID,
		Version:    e.version,
		Items:      e.itemsCopy(),
	}
	go func() {
		if err := e.deps.Bus.Publish(e.ctx, ann); err != nil {
			e.log.Warn("broadcast publish failed", zap.Error(err))
		}
	}()
}

func (e *Engine) scheduleSave() {
	resetTimer(e.saveTimer, e.cfg.SaveDebounce)
}

func (e *Engine) flushSave() {
	stopTimer(e.saveTimer)
	if !e.dirty || e.deps.Cache == nil {
		e.dirty = false
		return
	}
	// Teardown flushes run after e.ctx is cancelled, so the write uses its
	// own context.
	e.deps.Cache.Save(context.Background(), e.documentID, e.items)
	e.dirty = false
}

func (e *Engine) teardown() {
	e.flushSave()
	e.saveTimer.Stop()
	e.pushTimer.Stop()
	e.poll.Stop()
	if e.sub != nil {
		e.sub.Close()
	}
	e.log.Debug("engine closed")
}

func (e *Engine) itemsCopy() []board.Item {
	items := make([]board.Item, len(e.items))
	copy(items, e.items)
	return items
}

// newStoppedTimer returns a timer that will not fire until reset.
func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	stopTimer(t)
	return t
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}
