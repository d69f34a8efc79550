// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Field limits.
const (
	MaxTitleRunes = 120
	MaxNoteRunes  = 2000
)

// Spot is a user-submitted street art location. Aggregates are not stored on
// the server; see VoteSummary.
type Spot struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Note      string    `json:"note,omitempty"`
	PhotoURL  string    `json:"photo_url,omitempty"`
	PhotoPath string    `json:"photo_path,omitempty"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	CreatedAt time.Time `json:"created_at"`
}

// NewSpot is the create input for a spot. ID and CreatedAt are optional;
// the server fills them when absent.
type NewSpot struct {
	ID        string    `json:"id,omitempty"`
	Title     string    `json:"title"`
	Note      string    `json:"note,omitempty"`
	PhotoURL  string    `json:"photo_url,omitempty"`
	PhotoPath string    `json:"photo_path,omitempty"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Normalize trims and NFC-normalizes the free text fields and validates the
// result.
func (n NewSpot) Normalize() (NewSpot, error) {
	title, err := NormalizeTitle(n.Title)
	if err != nil {
		return n, err
	}
	note, err := NormalizeNote(n.Note)
	if err != nil {
		return n, err
	}
	if err := ValidateLocation(n.Lat, n.Lng); err != nil {
		return n, err
	}
	n.Title = title
	n.Note = note
	n.ID = strings.TrimSpace(n.ID)
	return n, nil
}

// Spot converts the input to a Spot with the given id and timestamp
// applied when the input left them empty.
func (n NewSpot) Spot(id string, now time.Time) Spot {
	if n.ID != "" {
		id = n.ID
	}
	created := n.CreatedAt
	if created.IsZero() {
		created = now
	}
	return Spot{
		ID:        id,
		Title:     n.Title,
		Note:      n.Note,
		PhotoURL:  n.PhotoURL,
		PhotoPath: n.PhotoPath,
		Lat:       n.Lat,
		Lng:       n.Lng,
		CreatedAt: created.UTC(),
	}
}

// SpotPatch is an admin edit. Nil fields are left untouched.
type SpotPatch struct {
	Title *string `json:"title,omitempty"`
	Note  *string `json:"note,omitempty"`
}

// Normalize validates the patch. A present title must stay non-empty.
func (p SpotPatch) Normalize() (SpotPatch, error) {
	if p.Title != nil {
		t, err := NormalizeTitle(*p.Title)
		if err != nil {
			return p, err
		}
		p.Title = &t
	}
	if p.Note != nil {
		n, err := NormalizeNote(*p.Note)
		if err != nil {
			return p, err
		}
		p.Note = &n
	}
	return p, nil
}

// Apply returns s with the patch applied.
func (p SpotPatch) Apply(s Spot) Spot {
	if p.Title != nil {
		s.Title = *p.Title
	}
	if p.Note != nil {
		s.Note = *p.Note
	}
	return s
}

// NormalizeTitle trims, NFC-normalizes and bounds a title.
func NormalizeTitle(title string) (string, error) {
	t := norm.NFC.String(strings.TrimSpace(title))
	if t == "" {
		return "", fmt.Errorf("%w: title must not be empty", ErrInvalidTitle)
	}
	if utf8.RuneCountInString(t) > MaxTitleRunes {
		return "", fmt.Errorf("%w: title exceeds %d characters", ErrInvalidTitle, MaxTitleRunes)
	}
	return t, nil
}

// NormalizeNote trims, NFC-normalizes and bounds a note. Empty is allowed.
func NormalizeNote(note string) (string, error) {
	n := norm.NFC.String(strings.TrimSpace(note))
	if utf8.RuneCountInString(n) > MaxNoteRunes {
		return "", fmt.Errorf("%w: note exceeds %d characters", ErrInvalidNote, MaxNoteRunes)
	}
	return n, nil
}

// ValidateLocation checks decimal degree bounds.
func ValidateLocation(lat, lng float64) error {
	if lat != lat || lng != lng { // NaN
		return fmt.Errorf("%w: coordinates must be numbers", ErrInvalidLocation)
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: lat %v out of range", ErrInvalidLocation, lat)
	}
	if lng < -180 || lng > 180 {
		return fmt.Errorf("%w: lng %v out of range", ErrInvalidLocation, lng)
	}
	return nil
}

// Aggregate holds the running counters of the local-first strategy.
type Aggregate struct {
	RatingSum   int `json:"ratingSum"`
	RatingCount int `json:"ratingCount"`
	BuffCount   int `json:"buffCount"`
	FrameCount  int `json:"frameCount"`
}

// Average returns RatingSum/RatingCount, or false when nothing was rated.
func (a Aggregate) Average() (float64, bool) {
	if a.RatingCount <= 0 {
		return 0, false
	}
	return float64(a.RatingSum) / float64(a.RatingCount), true
}

// CachedSpot is a spot as kept in the device cache.
type CachedSpot struct {
	Spot
	Aggregate
}
