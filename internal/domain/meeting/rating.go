package meeting

import (
	"errors"
	"fmt"
	"time"
)

// Rating is a discrete satisfaction label. Lower non-zero values are better;
// Unknown sorts after every known rating.
type Rating int

const (
	Unknown Rating = iota
	Excellent
	Good
	Fair
	Poor
)

var ratingNames = map[Rating]string{
	Unknown:   "unknown",
	Excellent: "excellent",
	Good:      "good",
	Fair:      "fair",
	Poor:      "poor",
}

func (r Rating) String() string {
	if s, ok := ratingNames[r]; ok {
		return s
	}
	return fmt.Sprintf("Rating(%d)", int(r))
}

// MarshalText implements encoding.TextMarshaler.
func (r Rating) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Rating) UnmarshalText(b []byte) error {
	for k, v := range ratingNames {
		if v == string(b) {
			*r = k
			return nil
		}
	}
	return fmt.Errorf("unknown rating %q", string(b))
}

// Rank orders ratings from best to worst, with Unknown last.
func (r Rating) Rank() int {
	if r == Unknown {
		return int(Poor) + 1
	}
	return int(r)
}

// Scorer maps aggregate travel time and transfer count to a Rating.
// Travel time picks the band; an average transfer count at or above
// TransferPenaltyFrom drops the result one band, never past Poor.
type Scorer struct {
	ExcellentWithin     time.Duration
	GoodWithin          time.Duration
	FairWithin          time.Duration
	TransferPenaltyFrom int
}

// DefaultScorer returns the scorer used when none is configured.
func DefaultScorer() Scorer {
	return Scorer{
		ExcellentWithin:     20 * time.Minute,
		GoodWithin:          35 * time.Minute,
		FairWithin:          50 * time.Minute,
		TransferPenaltyFrom: 2,
	}
}

// Validate checks that the bands are positive and strictly increasing.
func (s Scorer) Validate() error {
	if s.ExcellentWithin <= 0 {
		return errors.New("excellent band must be positive")
	}
	if s.GoodWithin <= s.ExcellentWithin || s.FairWithin <= s.GoodWithin {
		return fmt.Errorf("bands must increase: %s < %s < %s", s.ExcellentWithin, s.GoodWithin, s.FairWithin)
	}
	if s.TransferPenaltyFrom < 1 {
		return errors.New("transfer penalty threshold must be at least 1")
	}
	return nil
}

// Score rates an average travel time in seconds and an average transfer count.
// Nil travel time means no participant could be routed and yields Unknown.
func (s Scorer) Score(averageTravelTime, averageTransferCount *int) Rating {
	if averageTravelTime == nil {
		return Unknown
	}

	travel := time.Duration(*averageTravelTime) * time.Second
	var level Rating
	switch {
	case travel <= s.ExcellentWithin:
		level = Excellent
	case travel <= s.GoodWithin:
		level = Good
	case travel <= s.FairWithin:
		level = Fair
	default:
		level = Poor
	}

	if averageTransferCount != nil && *averageTransferCount >= s.TransferPenaltyFrom && level < Poor {
		level++
	}
	return level
}

// Rate re-scores a summary without recomputing it.
func (s Scorer) Rate(summary CandidateSummary) Rating {
	return s.Score(summary.AverageTravelTime, summary.AverageTransferCount)
}

// Rate re-scores a summary with the default scorer.
func Rate(summary CandidateSummary) Rating {
	return DefaultScorer().Rate(summary)
}
