package usecases_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/sophialabs/meetpoint/internal/domain/meeting"
	"github.com/sophialabs/meetpoint/internal/domain/route"
	"github.com/sophialabs/meetpoint/internal/domain/station"
	"github.com/sophialabs/meetpoint/internal/domain/trace"
	"github.com/sophialabs/meetpoint/internal/infrastructure/usecases"
	"github.com/sophialabs/meetpoint/internal/testutil"
)

var (
	hongdae  = meeting.CandidateStation{Name: "홍대입구", StationID: 239}
	jamsil   = meeting.CandidateStation{Name: "잠실", StationID: 216}
	stations = map[string]station.Info{
		"신촌":  {ID: 240, Name: "신촌", Coordinate: station.Coordinate{X: 126.936893, Y: 37.555134}},
		"사당":  {ID: 226, Name: "사당"},
		"왕십리": {ID: 208, Name: "왕십리"},
	}
	friends = []meeting.Participant{
		{Name: "A", Origin: "신촌"},
		{Name: "B", Origin: "사당"},
		{Name: "C", Origin: "왕십리"},
	}
)

func standardRoutes() map[testutil.RoutePair]route.Result {
	return map[testutil.RoutePair]route.Result{
		{Start: 240, End: 222}: testutil.Route(1500, "2호선"),
		{Start: 226, End: 222}: testutil.Route(600, "2호선"),
		{Start: 208, End: 222}: testutil.Route(1800, "2호선"),
		{Start: 240, End: 239}: testutil.Route(120, "2호선"),
		{Start: 226, End: 239}: testutil.Route(1900, "2호선"),
		{Start: 208, End: 239}: testutil.Route(1700, "2호선"),
		{Start: 240, End: 216}: testutil.Route(2500, "2호선"),
		{Start: 226, End: 216}: testutil.Route(1400, "2호선"),
		// 왕십리 to 잠실 has no route.
	}
}

type reverseRanker struct{ err error }

func (r reverseRanker) Rank(summaries []meeting.CandidateSummary) ([]int, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := make([]int, len(summaries))
	for i := range out {
		out[i] = len(summaries) - 1 - i
	}
	return out, nil
}

func newEngine(t *testing.T, oracle route.Oracle, ranker reverseRanker) (*usecases.MeetingEngine, *trace.RingBuffer) {
	t.Helper()
	history := trace.NewRingBuffer(20)
	e := usecases.NewMeetingEngine(
		&testutil.StubResolver{Stations: stations},
		usecases.NewRouteFetcher(oracle, 8, &testutil.NoopLogger{}),
		ranker,
		&testutil.FixedClock{T: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
		&testutil.NoopLogger{},
		history,
		usecases.EngineOptions{CandidateConcurrency: 2, Scorer: meeting.DefaultScorer()},
	)
	t.Cleanup(e.Close)
	return e, history
}

// waitFinished reads ch until a finished update for snapshot id arrives.
func waitFinished(t *testing.T, ch <-chan meeting.Update, id uint64) meeting.Update {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-ch:
			if !ok {
				t.Fatal("subscription closed")
			}
			if u.SnapshotID == id && u.Status != meeting.StatusRunning {
				return u
			}
		case <-timeout:
			t.Fatalf("timed out waiting for snapshot %d", id)
		}
	}
}

func TestMeetingEngine_SubmitPublishesOrderedResult(t *testing.T) {
	e, history := newEngine(t, &testutil.StubOracle{Routes: standardRoutes()}, reverseRanker{})
	ch, cancel := e.Subscribe()
	defer cancel()

	snap := meeting.Snapshot{Participants: friends, Candidates: []meeting.CandidateStation{gangnam, hongdae, jamsil}}
	id, err := e.Submit(snap)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	running := <-ch
	if running.Status != meeting.StatusRunning || running.SnapshotID != id {
		t.Errorf("expected running update for %d, got %+v", id, running)
	}

	u := waitFinished(t, ch, id)
	if u.Status != meeting.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", u.Status, u.Error)
	}
	if len(u.Summaries) != 3 {
		t.Fatalf("expected 3 summaries, got %d", len(u.Summaries))
	}
	for i, want := range snap.Candidates {
		s := u.Summaries[i]
		if !s.Candidate.Equal(want) {
			t.Errorf("summary[%d] is %q, want %q", i, s.Candidate.Name, want.Name)
		}
		for j, o := range s.Outcomes {
			if o.Participant != friends[j].Name {
				t.Errorf("summary[%d] outcome[%d] is %q", i, j, o.Participant)
			}
		}
	}

	// 강남: (1500+600+1800)/3 = 1300s, about 22 minutes.
	if got := u.Summaries[0]; *got.AverageTravelTime != 1300 || got.Rating != meeting.Good {
		t.Errorf("강남 = %d/%s, want 1300/Good", *got.AverageTravelTime, got.Rating)
	}
	if got := u.Summaries[2]; got.SuccessCount != 2 || got.TotalCount != 3 || *got.AverageTravelTime != 1950 {
		t.Errorf("잠실 = %s avg %v, want 2 of 3 avg 1950", got.Reachability(), got.AverageTravelTime)
	}

	// Pooled overview over 8 successes.
	if u.Overview.SuccessCount != 8 || u.Overview.TotalCount != 9 {
		t.Errorf("overview counts = %d/%d", u.Overview.SuccessCount, u.Overview.TotalCount)
	}

	if !reflect.DeepEqual(u.Ranking, []int{216, 239, 222}) {
		t.Errorf("ranking = %v", u.Ranking)
	}
	if len(u.Origins) != 3 || u.Origins[0].Station == nil || u.Origins[0].Station.Coordinate.X != 126.936893 {
		t.Errorf("unexpected origins %+v", u.Origins)
	}

	latest, ok := e.Latest()
	if !ok || latest.SnapshotID != id {
		t.Errorf("Latest = %d, %v", latest.SnapshotID, ok)
	}

	e.Close()
	if history.CountOutcome(trace.RunCompleted) != 1 {
		t.Errorf("expected 1 completed run in history, got %d", history.CountOutcome(trace.RunCompleted))
	}
}

func TestMeetingEngine_SupersededRunIsNeverPublished(t *testing.T) {
	release := make(chan struct{})
	oracle := &testutil.StubOracle{
		Routes: standardRoutes(),
		Hook: func(_ context.Context, p testutil.RoutePair) error {
			if p.End == jamsil.StationID {
				<-release
			}
			return nil
		},
	}
	e, history := newEngine(t, oracle, reverseRanker{})
	ch, cancel := e.Subscribe()
	defer cancel()

	first, err := e.Submit(meeting.Snapshot{Participants: friends, Candidates: []meeting.CandidateStation{jamsil}})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	second, err := e.Submit(meeting.Snapshot{Participants: friends, Candidates: []meeting.CandidateStation{gangnam}})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if second <= first {
		t.Fatalf("snapshot IDs must increase: %d then %d", first, second)
	}

	u := waitFinished(t, ch, second)
	if u.Summaries[0].Candidate.StationID != gangnam.StationID {
		t.Errorf("published result mixes snapshots: %+v", u.Summaries)
	}

	close(release)
	e.Close()

	for u := range ch {
		if u.SnapshotID == first && u.Status != meeting.StatusRunning {
			t.Errorf("superseded snapshot %d was published", first)
		}
	}
	latest, _ := e.Latest()
	if latest.SnapshotID != second {
		t.Errorf("Latest = %d, want %d", latest.SnapshotID, second)
	}
	if history.CountOutcome(trace.RunSuperseded) != 1 {
		t.Errorf("expected 1 superseded run, got %d", history.CountOutcome(trace.RunSuperseded))
	}
	counts := e.RunCounts()
	if counts[trace.RunSuperseded] != 1 || counts[trace.RunFailed] != 0 {
		t.Errorf("unexpected run counts %v", counts)
	}
}

func TestMeetingEngine_SupersededRunStartsNoNewQueries(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	oracle := &testutil.StubOracle{
		Routes: standardRoutes(),
		Hook: func(_ context.Context, p testutil.RoutePair) error {
			if p.End != gangnam.StationID {
				once.Do(func() { close(entered) })
				<-release
			}
			return nil
		},
	}
	history := trace.NewRingBuffer(20)
	e := usecases.NewMeetingEngine(
		&testutil.StubResolver{Stations: stations},
		usecases.NewRouteFetcher(oracle, 1, &testutil.NoopLogger{}),
		nil,
		&testutil.FixedClock{},
		&testutil.NoopLogger{},
		history,
		usecases.EngineOptions{CandidateConcurrency: 2, Scorer: meeting.DefaultScorer()},
	)
	t.Cleanup(e.Close)
	ch, cancel := e.Subscribe()
	defer cancel()

	if _, err := e.Submit(meeting.Snapshot{Participants: friends, Candidates: []meeting.CandidateStation{hongdae, jamsil}}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first run never queried the oracle")
	}

	second, err := e.Submit(meeting.Snapshot{Participants: friends, Candidates: []meeting.CandidateStation{gangnam}})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	close(release)

	u := waitFinished(t, ch, second)
	if u.Status != meeting.StatusCompleted || u.Summaries[0].SuccessCount != 3 {
		t.Errorf("unexpected result for current snapshot: %+v", u)
	}
	e.Close()

	stale := 0
	for _, origin := range []int{240, 226, 208} {
		stale += oracle.CallsFor(origin, hongdae.StationID) + oracle.CallsFor(origin, jamsil.StationID)
	}
	if stale != 1 {
		t.Errorf("superseded run issued %d queries, want only the one in flight", stale)
	}
	if oracle.Calls() != 4 {
		t.Errorf("expected 4 oracle calls, got %d", oracle.Calls())
	}
	counts := e.RunCounts()
	if counts[trace.RunSuperseded] != 1 || counts[trace.RunFailed] != 0 {
		t.Errorf("unexpected run counts %v", counts)
	}
}

func TestMeetingEngine_EmptySnapshotCompletesImmediately(t *testing.T) {
	oracle := &testutil.StubOracle{Routes: standardRoutes()}
	e, _ := newEngine(t, oracle, reverseRanker{})

	tests := []struct {
		name string
		snap meeting.Snapshot
	}{
		{"no participants", meeting.Snapshot{Candidates: []meeting.CandidateStation{gangnam}}},
		{"no candidates", meeting.Snapshot{Participants: friends}},
		{"nothing", meeting.Snapshot{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := e.Submit(tt.snap)
			if err != nil {
				t.Fatalf("Submit failed: %v", err)
			}
			u, ok := e.Latest()
			if !ok || u.SnapshotID != id || u.Status != meeting.StatusCompleted {
				t.Fatalf("expected completed result for %d, got %+v", id, u)
			}
			if len(u.Summaries) != len(tt.snap.Candidates) {
				t.Errorf("expected %d summaries, got %d", len(tt.snap.Candidates), len(u.Summaries))
			}
			if u.Overview.AverageTravelTime != nil || u.Overview.Rating != meeting.Unknown {
				t.Errorf("expected unknown overview, got %+v", u.Overview)
			}
		})
	}

	if oracle.Calls() != 0 {
		t.Errorf("expected no oracle calls, got %d", oracle.Calls())
	}
}

func TestMeetingEngine_UnavailableOracleFailsRun(t *testing.T) {
	oracle := &testutil.StubOracle{
		Hook: func(context.Context, testutil.RoutePair) error {
			return fmt.Errorf("%w: HTTP 401", route.ErrUnavailable)
		},
	}
	e, history := newEngine(t, oracle, reverseRanker{})
	ch, cancel := e.Subscribe()
	defer cancel()

	id, _ := e.Submit(meeting.Snapshot{Participants: friends, Candidates: []meeting.CandidateStation{gangnam}})
	u := waitFinished(t, ch, id)
	if u.Status != meeting.StatusFailed || u.Error == "" {
		t.Errorf("expected failed update with error, got %+v", u)
	}
	e.Close()
	if history.CountOutcome(trace.RunFailed) != 1 {
		t.Errorf("expected 1 failed run, got %d", history.CountOutcome(trace.RunFailed))
	}
}

func TestMeetingEngine_UnresolvedOrigin(t *testing.T) {
	e, _ := newEngine(t, &testutil.StubOracle{Routes: standardRoutes()}, reverseRanker{})

	participants := append([]meeting.Participant{}, friends...)
	participants = append(participants, meeting.Participant{Name: "D", Origin: "Atlantis"})

	u, err := e.Compute(context.Background(), meeting.Snapshot{
		Participants: participants,
		Candidates:   []meeting.CandidateStation{gangnam, hongdae},
	})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	for _, s := range u.Summaries {
		last := s.Outcomes[3]
		if last.OK || last.Failure != meeting.FailureNotFound {
			t.Errorf("%s: expected not_found for D, got %+v", s.Candidate.Name, last)
		}
		if s.SuccessCount != 3 || s.TotalCount != 4 {
			t.Errorf("%s: expected 3 of 4, got %s", s.Candidate.Name, s.Reachability())
		}
	}
	if u.Origins[3].Station != nil || u.Origins[3].Error == "" {
		t.Errorf("expected unresolved origin marker, got %+v", u.Origins[3])
	}
}

func TestMeetingEngine_SelectedOverviewIsVerbatim(t *testing.T) {
	e, _ := newEngine(t, &testutil.StubOracle{Routes: standardRoutes()}, reverseRanker{})

	u, err := e.Compute(context.Background(), meeting.Snapshot{
		Participants: friends,
		Candidates:   []meeting.CandidateStation{gangnam, jamsil},
		Selected:     jamsil.StationID,
	})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	s := u.Summaries[1]
	want := meeting.Overview{
		AverageTravelTime:    s.AverageTravelTime,
		AverageTransferCount: s.AverageTransferCount,
		SuccessCount:         s.SuccessCount,
		TotalCount:           s.TotalCount,
		Rating:               s.Rating,
	}
	if !reflect.DeepEqual(u.Overview, want) {
		t.Errorf("overview = %+v, want %+v", u.Overview, want)
	}
}

func TestMeetingEngine_ComputeIsIdempotent(t *testing.T) {
	e, _ := newEngine(t, &testutil.StubOracle{Routes: standardRoutes()}, reverseRanker{})
	snap := meeting.Snapshot{Participants: friends, Candidates: []meeting.CandidateStation{gangnam, hongdae, jamsil}}

	first, err := e.Compute(context.Background(), snap)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	second, err := e.Compute(context.Background(), snap)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if !reflect.DeepEqual(first.Summaries, second.Summaries) {
		t.Error("identical snapshots produced different summaries")
	}
	if first.RunID == second.RunID {
		t.Error("expected distinct run IDs")
	}
	if _, ok := e.Latest(); ok {
		t.Error("Compute must not publish")
	}
}

func TestMeetingEngine_RejectsDuplicateParticipants(t *testing.T) {
	e, _ := newEngine(t, &testutil.StubOracle{}, reverseRanker{})
	snap := meeting.Snapshot{
		Participants: []meeting.Participant{{Name: "A", Origin: "신촌"}, {Name: "A", Origin: "사당"}},
		Candidates:   []meeting.CandidateStation{gangnam},
	}
	if _, err := e.Submit(snap); !errors.Is(err, meeting.ErrDuplicateParticipant) {
		t.Errorf("expected ErrDuplicateParticipant, got %v", err)
	}
	if e.Current() != 0 {
		t.Error("rejected snapshot must not become current")
	}
}

func TestMeetingEngine_FailingRankerKeepsInputOrder(t *testing.T) {
	e, _ := newEngine(t, &testutil.StubOracle{Routes: standardRoutes()}, reverseRanker{err: errors.New("boom")})
	u, err := e.Compute(context.Background(), meeting.Snapshot{
		Participants: friends,
		Candidates:   []meeting.CandidateStation{gangnam, hongdae},
	})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if !reflect.DeepEqual(u.Ranking, []int{222, 239}) {
		t.Errorf("ranking = %v, want input order", u.Ranking)
	}
}

func TestMeetingEngine_SlowSubscriberSeesNewest(t *testing.T) {
	e, _ := newEngine(t, &testutil.StubOracle{}, reverseRanker{})
	ch, cancel := e.Subscribe()
	defer cancel()

	var last uint64
	for range 50 {
		id, err := e.Submit(meeting.Snapshot{Candidates: []meeting.CandidateStation{gangnam}})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		last = id
	}

	var got meeting.Update
	for len(ch) > 0 {
		got = <-ch
	}
	if got.SnapshotID != last {
		t.Errorf("newest update delivered = %d, want %d", got.SnapshotID, last)
	}
}

func TestMeetingEngine_SubscribeReplaysLatest(t *testing.T) {
	e, _ := newEngine(t, &testutil.StubOracle{}, reverseRanker{})
	id, _ := e.Submit(meeting.Snapshot{Participants: friends})

	ch, cancel := e.Subscribe()
	defer cancel()
	select {
	case u := <-ch:
		if u.SnapshotID != id {
			t.Errorf("replayed %d, want %d", u.SnapshotID, id)
		}
	default:
		t.Error("expected latest update on subscribe")
	}
}

func TestMeetingEngine_Close(t *testing.T) {
	e, _ := newEngine(t, &testutil.StubOracle{}, reverseRanker{})
	ch, _ := e.Subscribe()

	e.Close()
	e.Close()

	if _, ok := <-ch; ok {
		t.Error("expected subscription channel to be closed")
	}
	if _, err := e.Submit(meeting.Snapshot{}); !errors.Is(err, usecases.ErrEngineClosed) {
		t.Errorf("expected ErrEngineClosed, got %v", err)
	}
}
