// Package aggregate holds the vote arithmetic shared by the server and the
// device: the local-first counter updates and the summary fold over vote rows.
//
// Everything here is pure. Callers own persistence.
package aggregate

import (
	"math"

	"github.com/okian/mapthewalls/internal/domain/model"
)

// Rating bounds.
const (
	MinRating = 1
	MaxRating = 5
)

// ErrInvalidRating is returned for ratings outside [MinRating, MaxRating].
var ErrInvalidRating = model.ErrInvalidRating

// NormalizeRating rounds stars to the nearest integer and rejects values
// outside the rating bounds.
func NormalizeRating(stars float64) (int, error) {
	if math.IsNaN(stars) || math.IsInf(stars, 0) {
		return 0, ErrInvalidRating
	}
	r := math.Round(stars)
	if r < MinRating || r > MaxRating {
		return 0, ErrInvalidRating
	}
	return int(r), nil
}

// ApplyRating replaces this device's rating. A previous rating is edited in
// place; a first rating adds one to the count.
func ApplyRating(a model.Aggregate, prev *int, next int) model.Aggregate {
	if prev != nil {
		a.RatingSum += next - *prev
		return a
	}
	a.RatingSum += next
	a.RatingCount++
	return a
}

// NextVerdict returns the verdict stored after choosing choice when prev was
// stored. Choosing the stored verdict again clears it.
func NextVerdict(prev *model.Verdict, choice model.Verdict) *model.Verdict {
	if prev != nil && *prev == choice {
		return nil
	}
	return choice.Ptr()
}

// ApplyVerdict updates the verdict tallies for one device's choice and
// returns the verdict to store. Counters never drop below zero.
func ApplyVerdict(a model.Aggregate, prev *model.Verdict, choice model.Verdict) (model.Aggregate, *model.Verdict) {
	if prev != nil {
		a = bump(a, *prev, -1)
	}
	next := NextVerdict(prev, choice)
	if next != nil {
		a = bump(a, *next, +1)
	}
	return a, next
}

func bump(a model.Aggregate, v model.Verdict, delta int) model.Aggregate {
	switch v {
	case model.VerdictBuff:
		a.BuffCount = max(0, a.BuffCount+delta)
	case model.VerdictFrame:
		a.FrameCount = max(0, a.FrameCount+delta)
	}
	return a
}

// Summarize folds every vote row of one spot into a summary. Avg is nil
// exactly when no row carries a rating.
func Summarize(rows []model.VoteRow) model.VoteSummary {
	var (
		s   model.VoteSummary
		sum int
	)
	for _, r := range rows {
		if r.Rating != nil {
			sum += *r.Rating
			s.Count++
		}
		if r.Verdict != nil {
			switch *r.Verdict {
			case model.VerdictBuff:
				s.Buff++
			case model.VerdictFrame:
				s.Frame++
			}
		}
	}
	if s.Count > 0 {
		avg := float64(sum) / float64(s.Count)
		s.Avg = &avg
	}
	return s
}

// FromAggregate renders locally kept counters in summary shape.
func FromAggregate(a model.Aggregate) model.VoteSummary {
	s := model.VoteSummary{
		Count: a.RatingCount,
		Buff:  a.BuffCount,
		Frame: a.FrameCount,
	}
	if avg, ok := a.Average(); ok {
		s.Avg = &avg
	}
	return s
}

// Empty is the summary rendered when nothing could be read.
func Empty() model.VoteSummary {
	return model.VoteSummary{}
}
