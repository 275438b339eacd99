package meeting

import "slices"

// Summarize reduces the outcomes of one candidate to a summary. Averages are
// taken over successful outcomes only, so a single unreachable participant does
// not blank out an otherwise useful candidate. Rating is left for the scorer.
func Summarize(candidate CandidateStation, outcomes []Outcome) CandidateSummary {
	p := Pool(outcomes)
	return CandidateSummary{
		Candidate:            candidate,
		Outcomes:             slices.Clone(outcomes),
		AverageTravelTime:    p.AverageTravelTime,
		AverageTransferCount: p.AverageTransferCount,
		SuccessCount:         p.SuccessCount,
		TotalCount:           p.TotalCount,
	}
}

// Pool aggregates an arbitrary set of outcomes. Transfer counts equal to the
// unknown sentinel are left out of the transfer average.
func Pool(outcomes []Outcome) Overview {
	var timeSum, successes int
	var transferSum, transferN int
	for _, o := range outcomes {
		if !o.OK {
			continue
		}
		successes++
		timeSum += o.TravelTimeSeconds
		if o.TransferCount >= 0 {
			transferSum += o.TransferCount
			transferN++
		}
	}

	ov := Overview{SuccessCount: successes, TotalCount: len(outcomes)}
	if successes > 0 {
		avg := roundedMean(timeSum, successes)
		ov.AverageTravelTime = &avg
	}
	if transferN > 0 {
		avg := roundedMean(transferSum, transferN)
		ov.AverageTransferCount = &avg
	}
	return ov
}

// Overall builds the group-wide overview. When selected names a candidate in
// summaries, that candidate's summary is returned verbatim; otherwise the
// successful outcomes of every candidate are pooled and scored.
func Overall(summaries []CandidateSummary, selected int, scorer Scorer) Overview {
	if selected != 0 {
		for _, s := range summaries {
			if s.Candidate.StationID == selected {
				return Overview{
					AverageTravelTime:    s.AverageTravelTime,
					AverageTransferCount: s.AverageTransferCount,
					SuccessCount:         s.SuccessCount,
					TotalCount:           s.TotalCount,
					Rating:               s.Rating,
				}
			}
		}
	}

	var all []Outcome
	for _, s := range summaries {
		all = append(all, s.Outcomes...)
	}
	ov := Pool(all)
	ov.Rating = scorer.Score(ov.AverageTravelTime, ov.AverageTransferCount)
	return ov
}

// roundedMean is sum/n rounded half up, for non-negative sums.
func roundedMean(sum, n int) int {
	return (2*sum + n) / (2 * n)
}
