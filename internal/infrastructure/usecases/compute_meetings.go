package usecases

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sophialabs/meetpoint/internal/domain/meeting"
	"github.com/sophialabs/meetpoint/internal/domain/route"
	"github.com/sophialabs/meetpoint/internal/domain/station"
	"github.com/sophialabs/meetpoint/internal/domain/trace"
	"github.com/sophialabs/meetpoint/internal/infrastructure/ports"
)

// ErrEngineClosed is returned by Submit after Close.
var ErrEngineClosed = errors.New("meeting engine closed")

const subscriberBuffer = 8

// EngineOptions tunes a MeetingEngine.
type EngineOptions struct {
	// CandidateConcurrency bounds how many candidates are evaluated at once.
	CandidateConcurrency int
	Scorer               meeting.Scorer
}

// MeetingEngine computes meeting options for snapshots and streams the results.
// Every submitted snapshot is tagged with an increasing ID; a run whose ID is
// no longer current when it finishes is dropped and recorded as superseded.
type MeetingEngine struct {
	resolver station.Resolver
	fetcher  *RouteFetcher
	ranker   ports.Ranker
	scorer   meeting.Scorer
	limit    int
	clock    ports.Clock
	logger   ports.Logger
	history  *trace.RingBuffer

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu      sync.Mutex
	current uint64
	stop    context.CancelFunc // stops the current run from starting queries
	latest  *meeting.Update
	subs    map[int]chan meeting.Update
	nextSub int
	closed  bool
}

// NewMeetingEngine creates an engine. ranker may be nil, in which case the
// ranking follows input order.
func NewMeetingEngine(
	resolver station.Resolver,
	fetcher *RouteFetcher,
	ranker ports.Ranker,
	clock ports.Clock,
	logger ports.Logger,
	history *trace.RingBuffer,
	opts EngineOptions,
) *MeetingEngine {
	if opts.CandidateConcurrency <= 0 {
		opts.CandidateConcurrency = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MeetingEngine{
		resolver: resolver,
		fetcher:  fetcher,
		ranker:   ranker,
		scorer:   opts.Scorer,
		limit:    opts.CandidateConcurrency,
		clock:    clock,
		logger:   logger,
		history:  history,
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[int]chan meeting.Update),
	}
}

// Submit makes snap the current snapshot and starts computing it in the
// background, on the engine's own context. A running update is published at
// once. A snapshot without participants or candidates completes immediately.
// The previous run, if any, starts no further route queries; the ones it has
// in flight finish and are discarded.
func (e *MeetingEngine) Submit(snap meeting.Snapshot) (uint64, error) {
	snap = snap.Clone()
	if err := snap.Validate(); err != nil {
		return 0, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, ErrEngineClosed
	}
	e.current++
	id := e.current
	if e.stop != nil {
		e.stop()
		e.stop = nil
	}
	runID := uuid.NewString()
	started := e.clock.Now()

	if snap.Empty() {
		u := e.emptyUpdate(snap)
		u.SnapshotID, u.RunID, u.StartedAt, u.FinishedAt = id, runID, started, started
		e.publishLocked(u)
		e.mu.Unlock()
		e.record(u, trace.RunCompleted, len(snap.Participants), len(snap.Candidates))
		return id, nil
	}

	e.publishLocked(meeting.Update{
		SnapshotID: id,
		RunID:      runID,
		Status:     meeting.StatusRunning,
		StartedAt:  started,
	})
	admit, stop := context.WithCancel(e.ctx)
	e.stop = stop
	e.wg.Add(1)
	e.mu.Unlock()

	go e.run(admit, stop, id, runID, started, snap)
	return id, nil
}

func (e *MeetingEngine) run(admit context.Context, stop context.CancelFunc, id uint64, runID string, started time.Time, snap meeting.Snapshot) {
	defer e.wg.Done()
	defer stop()
	log := e.logger.With("snapshot", id, "run", runID)
	log.Debug("run started", "participants", len(snap.Participants), "candidates", len(snap.Candidates))

	u, err := e.compute(e.ctx, admit, snap)
	u.SnapshotID, u.RunID, u.StartedAt = id, runID, started
	u.FinishedAt = e.clock.Now()
	outcome := trace.RunCompleted
	if err != nil {
		u.Status = meeting.StatusFailed
		u.Error = err.Error()
		outcome = trace.RunFailed
	}

	switch {
	case !e.publish(u):
		outcome = trace.RunSuperseded
		log.Debug("run superseded")
	case err != nil:
		log.Warn("run failed", "error", err)
	default:
		log.Info("run finished", "status", string(u.Status), "duration", u.FinishedAt.Sub(started))
	}
	e.record(u, outcome, len(snap.Participants), len(snap.Candidates))
}

// Compute evaluates snap synchronously on ctx. The result is returned to the
// caller only; it is neither published nor made current.
func (e *MeetingEngine) Compute(ctx context.Context, snap meeting.Snapshot) (meeting.Update, error) {
	snap = snap.Clone()
	if err := snap.Validate(); err != nil {
		return meeting.Update{}, err
	}
	started := e.clock.Now()
	u, err := e.compute(ctx, ctx, snap)
	if err != nil {
		return meeting.Update{}, err
	}
	u.RunID = uuid.NewString()
	u.StartedAt = started
	u.FinishedAt = e.clock.Now()
	return u, nil
}

// compute evaluates snap. Route queries are only started while admit is live;
// once it is done the result is incomplete and admit's error is returned.
func (e *MeetingEngine) compute(ctx, admit context.Context, snap meeting.Snapshot) (meeting.Update, error) {
	if snap.Empty() {
		return e.emptyUpdate(snap), nil
	}

	origins, markers, err := e.resolveOrigins(ctx, snap.Participants)
	if err != nil {
		return meeting.Update{Origins: markers}, err
	}

	summaries := make([]meeting.CandidateSummary, len(snap.Candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.limit)
	for i, c := range snap.Candidates {
		g.Go(func() error {
			if admit.Err() != nil {
				return nil
			}
			outcomes, err := e.fetcher.fetchAll(gctx, admit, c, origins)
			if admit.Err() != nil {
				return nil
			}
			if err != nil {
				return fmt.Errorf("candidate %q: %w", c.Name, err)
			}
			s := meeting.Summarize(c, outcomes)
			s.Rating = e.scorer.Rate(s)
			summaries[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return meeting.Update{Origins: markers}, err
	}
	if err := admit.Err(); err != nil {
		return meeting.Update{Origins: markers}, err
	}

	return meeting.Update{
		Status:    meeting.StatusCompleted,
		Summaries: summaries,
		Overview:  meeting.Overall(summaries, snap.Selected, e.scorer),
		Ranking:   e.rank(summaries),
		Origins:   markers,
	}, nil
}

func (e *MeetingEngine) emptyUpdate(snap meeting.Snapshot) meeting.Update {
	summaries := make([]meeting.CandidateSummary, len(snap.Candidates))
	for i, c := range snap.Candidates {
		summaries[i] = meeting.Summarize(c, nil)
	}
	return meeting.Update{
		Status:    meeting.StatusCompleted,
		Summaries: summaries,
		Overview:  meeting.Overall(summaries, snap.Selected, e.scorer),
		Ranking:   e.rank(summaries),
		Origins:   []meeting.Origin{},
	}
}

// resolveOrigins resolves every distinct origin name once. Unresolved origins
// are carried as per-participant errors; only an unavailable resolver or a
// done context fails the whole step.
func (e *MeetingEngine) resolveOrigins(ctx context.Context, participants []meeting.Participant) ([]Origin, []meeting.Origin, error) {
	type resolved struct {
		info station.Info
		err  error
	}

	names := make(map[string]*resolved)
	for _, p := range participants {
		if _, ok := names[p.Origin]; !ok {
			names[p.Origin] = &resolved{}
		}
	}

	var g errgroup.Group
	for name, r := range names {
		g.Go(func() error {
			r.info, r.err = e.resolver.Resolve(ctx, name)
			return nil
		})
	}
	_ = g.Wait()

	origins := make([]Origin, len(participants))
	markers := make([]meeting.Origin, len(participants))
	for i, p := range participants {
		r := names[p.Origin]
		origins[i] = Origin{Participant: p.Name, StationID: r.info.ID, Err: r.err}
		markers[i] = meeting.Origin{Participant: p.Name}
		if r.err != nil {
			if errors.Is(r.err, route.ErrUnavailable) {
				return nil, nil, fmt.Errorf("resolve origin of %q: %w", p.Name, r.err)
			}
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			markers[i].Error = r.err.Error()
			continue
		}
		info := r.info
		markers[i].Station = &info
	}
	return origins, markers, nil
}

// rank returns candidate station IDs best first. A failing ranker falls back
// to input order.
func (e *MeetingEngine) rank(summaries []meeting.CandidateSummary) []int {
	order := make([]int, len(summaries))
	for i := range order {
		order[i] = i
	}
	if e.ranker != nil && len(summaries) > 0 {
		ranked, err := e.ranker.Rank(summaries)
		if err != nil {
			e.logger.Warn("ranking failed, keeping input order", "error", err)
		} else {
			order = ranked
		}
	}

	ids := make([]int, 0, len(order))
	for _, idx := range order {
		ids = append(ids, summaries[idx].Candidate.StationID)
	}
	return ids
}

// publish delivers u if its snapshot is still current.
func (e *MeetingEngine) publish(u meeting.Update) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || u.SnapshotID != e.current {
		return false
	}
	e.publishLocked(u)
	return true
}

func (e *MeetingEngine) publishLocked(u meeting.Update) {
	if u.Status != meeting.StatusRunning {
		kept := u.Clone()
		e.latest = &kept
	}
	for _, ch := range e.subs {
		deliver(ch, u.Clone())
	}
}

// deliver sends u without blocking. A full channel loses its oldest update so
// the newest one always gets through. Callers hold the engine lock, so no other
// sender competes for the freed slot.
func deliver(ch chan meeting.Update, u meeting.Update) {
	select {
	case ch <- u:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- u:
	default:
	}
}

func (e *MeetingEngine) record(u meeting.Update, outcome trace.Outcome, participants, candidates int) {
	if e.history == nil {
		return
	}
	e.history.Add(trace.Entry{
		SnapshotID:   u.SnapshotID,
		RunID:        u.RunID,
		Outcome:      outcome,
		Participants: participants,
		Candidates:   candidates,
		StartedAt:    u.StartedAt,
		Duration:     u.FinishedAt.Sub(u.StartedAt),
		Error:        u.Error,
	})
}

// Subscribe returns a stream of updates, starting with the latest finished one
// if any. The returned function stops the subscription and closes the channel.
func (e *MeetingEngine) Subscribe() (<-chan meeting.Update, func()) {
	ch := make(chan meeting.Update, subscriberBuffer)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	if e.latest != nil {
		ch <- e.latest.Clone()
	}
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if c, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(c)
			}
		})
	}
}

// Latest returns the newest finished update.
func (e *MeetingEngine) Latest() (meeting.Update, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.latest == nil {
		return meeting.Update{}, false
	}
	return e.latest.Clone(), true
}

// Current returns the ID of the most recently submitted snapshot.
func (e *MeetingEngine) Current() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// History returns up to n recent runs, oldest first.
func (e *MeetingEngine) History(n int) []trace.Entry {
	if e.history == nil {
		return nil
	}
	return e.history.Last(n)
}

// RunCounts tallies the runs still held in history by outcome.
func (e *MeetingEngine) RunCounts() map[trace.Outcome]int {
	counts := make(map[trace.Outcome]int, 3)
	if e.history == nil {
		return counts
	}
	for _, o := range []trace.Outcome{trace.RunCompleted, trace.RunSuperseded, trace.RunFailed} {
		counts[o] = e.history.CountOutcome(o)
	}
	return counts
}

// Close stops accepting snapshots, cancels in-flight runs, waits for them and
// closes every subscription.
func (e *MeetingEngine) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()

		e.cancel()
		e.wg.Wait()

		e.mu.Lock()
		for id, ch := range e.subs {
			delete(e.subs, id)
			close(ch)
		}
		e.mu.Unlock()
	})
}
