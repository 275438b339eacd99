package meeting

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sophialabs/meetpoint/internal/domain/route"
	"github.com/sophialabs/meetpoint/internal/domain/station"
)

// ErrDuplicateParticipant indicates two participants share a name within one snapshot.
var ErrDuplicateParticipant = errors.New("duplicate participant name")

// Participant is a person routed from an origin station.
type Participant struct {
	Name   string `json:"name"`
	Origin string `json:"origin"`
}

// CandidateStation is a station evaluated as a possible meeting point.
type CandidateStation struct {
	Name       string             `json:"name"`
	StationID  int                `json:"station_id"`
	Coordinate station.Coordinate `json:"coordinate"`
}

// Equal reports whether both candidates refer to the same station.
func (c CandidateStation) Equal(o CandidateStation) bool {
	return c.StationID == o.StationID
}

// FailureKind classifies a failed outcome.
type FailureKind string

const (
	FailureNotFound    FailureKind = "not_found"
	FailureUnreachable FailureKind = "unreachable"
	FailureTimeout     FailureKind = "timeout"
	FailureUpstream    FailureKind = "upstream"
)

// FailureFromRoute maps a route error kind to an outcome failure kind.
func FailureFromRoute(kind route.ErrorKind) FailureKind {
	switch kind {
	case route.Unreachable:
		return FailureUnreachable
	case route.Timeout:
		return FailureTimeout
	default:
		return FailureUpstream
	}
}

// Outcome is the result of routing one participant to one candidate.
// When OK is false, Failure and Reason describe what went wrong and the numeric
// fields are meaningless.
type Outcome struct {
	Participant       string      `json:"participant"`
	OK                bool        `json:"ok"`
	TravelTimeSeconds int         `json:"travel_time_seconds"`
	TransferCount     int         `json:"transfer_count"`
	Failure           FailureKind `json:"failure,omitempty"`
	Reason            string      `json:"reason,omitempty"`
}

// Succeeded builds a successful outcome.
func Succeeded(participant string, travelTimeSeconds, transferCount int) Outcome {
	return Outcome{
		Participant:       participant,
		OK:                true,
		TravelTimeSeconds: travelTimeSeconds,
		TransferCount:     transferCount,
	}
}

// Failed builds a failed outcome.
func Failed(participant string, kind FailureKind, reason string) Outcome {
	return Outcome{
		Participant:   participant,
		Failure:       kind,
		Reason:        reason,
		TransferCount: route.UnknownTransfers,
	}
}

// CandidateSummary aggregates all outcomes for one candidate.
type CandidateSummary struct {
	Candidate            CandidateStation `json:"candidate"`
	Outcomes             []Outcome        `json:"outcomes"`
	AverageTravelTime    *int             `json:"average_travel_time"`
	AverageTransferCount *int             `json:"average_transfer_count"`
	SuccessCount         int              `json:"success_count"`
	TotalCount           int              `json:"total_count"`
	Rating               Rating           `json:"rating"`
}

// Reachability renders the "N of M reachable" label shown next to a candidate.
func (s CandidateSummary) Reachability() string {
	return fmt.Sprintf("%d of %d reachable", s.SuccessCount, s.TotalCount)
}

// Snapshot is the immutable input of one computation.
type Snapshot struct {
	Participants []Participant      `json:"participants"`
	Candidates   []CandidateStation `json:"candidates"`
	// Selected is the station ID of a focused candidate. When non-zero the
	// overview is that candidate's summary; otherwise all candidates are pooled.
	Selected int `json:"selected,omitempty"`
}

// Empty reports whether the snapshot has nothing to compute.
func (s Snapshot) Empty() bool {
	return len(s.Participants) == 0 || len(s.Candidates) == 0
}

// Validate checks participant name uniqueness.
func (s Snapshot) Validate() error {
	seen := make(map[string]bool, len(s.Participants))
	for _, p := range s.Participants {
		if seen[p.Name] {
			return fmt.Errorf("%w: %q", ErrDuplicateParticipant, p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// Clone returns a deep copy so a run never shares slices with its caller.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{
		Participants: slices.Clone(s.Participants),
		Candidates:   slices.Clone(s.Candidates),
		Selected:     s.Selected,
	}
}

// Overview is the group-wide summary of a result.
type Overview struct {
	AverageTravelTime    *int   `json:"average_travel_time"`
	AverageTransferCount *int   `json:"average_transfer_count"`
	SuccessCount         int    `json:"success_count"`
	TotalCount           int    `json:"total_count"`
	Rating               Rating `json:"rating"`
}

// Origin is a participant's resolved origin station, used for map markers.
type Origin struct {
	Participant string        `json:"participant"`
	Station     *station.Info `json:"station,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Status is the lifecycle state reported with an update.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Update is one message of the result stream.
type Update struct {
	SnapshotID uint64             `json:"snapshot_id"`
	RunID      string             `json:"run_id"`
	Status     Status             `json:"status"`
	Summaries  []CandidateSummary `json:"summaries"`
	Overview   Overview           `json:"overview"`
	// Ranking lists candidate station IDs from most to least convenient.
	Ranking    []int     `json:"ranking"`
	Origins    []Origin  `json:"origins"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Clone returns a copy of u that shares no slices with it.
func (u Update) Clone() Update {
	out := u
	out.Summaries = make([]CandidateSummary, len(u.Summaries))
	for i, s := range u.Summaries {
		s.Outcomes = slices.Clone(s.Outcomes)
		out.Summaries[i] = s
	}
	out.Ranking = slices.Clone(u.Ranking)
	out.Origins = slices.Clone(u.Origins)
	return out
}
