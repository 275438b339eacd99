package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sophialabs/meetpoint/internal/domain/meeting"
	"github.com/sophialabs/meetpoint/internal/domain/route"
	"github.com/sophialabs/meetpoint/internal/domain/station"
)

// CandidateRef names a candidate station. When StationID is set the reference
// is used as is; otherwise Name is resolved.
type CandidateRef struct {
	Name      string  `json:"name" yaml:"name" validate:"required_without=StationID"`
	StationID int     `json:"station_id,omitempty" yaml:"station_id" validate:"gte=0"`
	X         float64 `json:"x,omitempty" yaml:"x"`
	Y         float64 `json:"y,omitempty" yaml:"y"`
}

// SnapshotRequest is a snapshot as submitted by a client: candidates by name,
// and optionally the name of the focused candidate.
type SnapshotRequest struct {
	Participants []meeting.Participant `json:"participants" yaml:"participants" validate:"dive"`
	Candidates   []CandidateRef        `json:"candidates" yaml:"candidates" validate:"dive"`
	Selected     string                `json:"selected,omitempty" yaml:"selected"`
}

// PreparedSnapshot is a snapshot ready for the engine, plus the candidate names
// that could not be resolved and were left out.
type PreparedSnapshot struct {
	Snapshot   meeting.Snapshot
	Unresolved []string
}

// PrepareSnapshotUseCase turns client requests into engine snapshots.
type PrepareSnapshotUseCase struct {
	resolver station.Resolver
}

// NewPrepareSnapshotUseCase creates a new use case.
func NewPrepareSnapshotUseCase(resolver station.Resolver) *PrepareSnapshotUseCase {
	return &PrepareSnapshotUseCase{resolver: resolver}
}

// Execute resolves candidate names concurrently. Names that do not resolve are
// reported in Unresolved; repeated stations are kept once, in first-seen order.
func (uc *PrepareSnapshotUseCase) Execute(ctx context.Context, req SnapshotRequest) (PreparedSnapshot, error) {
	resolved := make([]*meeting.CandidateStation, len(req.Candidates))
	failures := make([]error, len(req.Candidates))

	var g errgroup.Group
	for i, ref := range req.Candidates {
		if ref.StationID != 0 {
			resolved[i] = &meeting.CandidateStation{
				Name:       ref.Name,
				StationID:  ref.StationID,
				Coordinate: station.Coordinate{X: ref.X, Y: ref.Y},
			}
			continue
		}
		g.Go(func() error {
			info, err := uc.resolver.Resolve(ctx, ref.Name)
			if err != nil {
				failures[i] = err
				return nil
			}
			resolved[i] = &meeting.CandidateStation{
				Name:       info.Name,
				StationID:  info.ID,
				Coordinate: info.Coordinate,
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return PreparedSnapshot{}, err
	}

	out := PreparedSnapshot{
		Snapshot: meeting.Snapshot{Participants: req.Participants},
	}
	for i, c := range resolved {
		if c == nil {
			if errors.Is(failures[i], route.ErrUnavailable) {
				return PreparedSnapshot{}, fmt.Errorf("resolve candidate %q: %w", req.Candidates[i].Name, failures[i])
			}
			out.Unresolved = append(out.Unresolved, req.Candidates[i].Name)
			continue
		}
		if containsStation(out.Snapshot.Candidates, *c) {
			continue
		}
		out.Snapshot.Candidates = append(out.Snapshot.Candidates, *c)
	}

	if sel := strings.TrimSpace(req.Selected); sel != "" {
		for i, ref := range req.Candidates {
			if resolved[i] != nil && (ref.Name == sel || resolved[i].Name == sel) {
				out.Snapshot.Selected = resolved[i].StationID
				break
			}
		}
	}
	return out, nil
}

func containsStation(list []meeting.CandidateStation, c meeting.CandidateStation) bool {
	for _, existing := range list {
		if existing.Equal(c) {
			return true
		}
	}
	return false
}
