package usecases

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/sophialabs/meetpoint/internal/domain/meeting"
	"github.com/sophialabs/meetpoint/internal/domain/route"
	"github.com/sophialabs/meetpoint/internal/infrastructure/ports"
)

// Origin is the starting station of one participant. Err is set when the
// participant's origin could not be resolved; StationID is then meaningless.
type Origin struct {
	Participant string
	StationID   int
	Err         error
}

// RouteFetcher queries the route oracle for every participant of a candidate.
type RouteFetcher struct {
	oracle route.Oracle
	sem    *semaphore.Weighted
	logger ports.Logger
}

// NewRouteFetcher creates a fetcher. maxInFlight bounds the number of
// concurrent oracle queries across all FetchAll calls sharing this fetcher.
func NewRouteFetcher(oracle route.Oracle, maxInFlight int, logger ports.Logger) *RouteFetcher {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &RouteFetcher{
		oracle: oracle,
		sem:    semaphore.NewWeighted(int64(maxInFlight)),
		logger: logger,
	}
}

// FetchAll routes every origin to candidate concurrently and returns one outcome
// per origin, in input order. Per-query failures are reported as failed
// outcomes. An error is returned only when the oracle is unavailable or ctx is
// done; FetchAll still waits for every started query before returning.
func (f *RouteFetcher) FetchAll(ctx context.Context, candidate meeting.CandidateStation, origins []Origin) ([]meeting.Outcome, error) {
	return f.fetchAll(ctx, ctx, candidate, origins)
}

// fetchAll starts a query only while admit is live. Queries already started
// run on ctx and are left to finish once admit is done; the result is then
// discarded and admit's error returned.
func (f *RouteFetcher) fetchAll(ctx, admit context.Context, candidate meeting.CandidateStation, origins []Origin) ([]meeting.Outcome, error) {
	outcomes := make([]meeting.Outcome, len(origins))
	g, gctx := errgroup.WithContext(ctx)
	actx, stop := context.WithCancel(gctx)
	defer stop()
	defer context.AfterFunc(admit, stop)()

	for i, o := range origins {
		if o.Err != nil {
			outcomes[i] = meeting.Failed(o.Participant, meeting.FailureNotFound, o.Err.Error())
			continue
		}

		g.Go(func() error {
			if admit.Err() != nil {
				return nil
			}
			if err := f.sem.Acquire(actx, 1); err != nil {
				if admit.Err() != nil && gctx.Err() == nil {
					return nil
				}
				return err
			}
			defer f.sem.Release(1)
			if admit.Err() != nil {
				return nil
			}

			res, err := f.oracle.Query(gctx, o.StationID, candidate.StationID)
			switch {
			case err == nil:
				outcomes[i] = meeting.Succeeded(o.Participant, res.TotalTravelTimeSeconds, res.TransferCount())
				return nil
			case errors.Is(err, route.ErrUnavailable):
				return fmt.Errorf("route %d to %d: %w", o.StationID, candidate.StationID, err)
			case ctx.Err() != nil:
				return ctx.Err()
			}

			kind := route.KindOf(err)
			if errors.Is(err, context.DeadlineExceeded) {
				kind = route.Timeout
			}
			f.logger.Debug("route query failed",
				"participant", o.Participant,
				"from", o.StationID,
				"to", candidate.StationID,
				"kind", kind.String(),
				"error", err,
			)
			outcomes[i] = meeting.Failed(o.Participant, meeting.FailureFromRoute(kind), err.Error())
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := admit.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}
