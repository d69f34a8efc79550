package model_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/okian/mapthewalls/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func intp(v int) *int { return &v }

func TestNewSpotNormalize(t *testing.T) {
	Convey("Given a spot submission", t, func() {
		in := model.NewSpot{Title: "  Café wall  ", Note: " big piece ", Lat: 52.5, Lng: 13.4}

		Convey("When it is normalized", func() {
			out, err := in.Normalize()

			Convey("Then text should be trimmed and composed", func() {
				So(err, ShouldBeNil)
				So(out.Title, ShouldEqual, "Café wall")
				So(out.Note, ShouldEqual, "big piece")
			})
		})

		Convey("When the title is blank", func() {
			in.Title = "   "
			_, err := in.Normalize()
			So(errors.Is(err, model.ErrInvalidTitle), ShouldBeTrue)
		})

		Convey("When the title is too long", func() {
			in.Title = strings.Repeat("x", model.MaxTitleRunes+1)
			_, err := in.Normalize()
			So(errors.Is(err, model.ErrInvalidTitle), ShouldBeTrue)
		})

		Convey("When the location is out of range", func() {
			in.Lat = 91
			_, err := in.Normalize()
			So(errors.Is(err, model.ErrInvalidLocation), ShouldBeTrue)
		})

		Convey("When it is converted without id or timestamp", func() {
			now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
			s := in.Spot("generated", now)

			Convey("Then the defaults should be applied", func() {
				So(s.ID, ShouldEqual, "generated")
				So(s.CreatedAt, ShouldEqual, now)
			})
		})
	})
}

func TestSpotPatch(t *testing.T) {
	Convey("Given an admin patch", t, func() {
		empty := ""
		note := "repainted"

		Convey("When the title is cleared", func() {
			_, err := model.SpotPatch{Title: &empty}.Normalize()
			So(errors.Is(err, model.ErrInvalidTitle), ShouldBeTrue)
		})

		Convey("When only the note changes", func() {
			p, err := model.SpotPatch{Note: &note}.Normalize()
			s := p.Apply(model.Spot{Title: "keep", Note: "old"})

			Convey("Then the title should be kept", func() {
				So(err, ShouldBeNil)
				So(s.Title, ShouldEqual, "keep")
				So(s.Note, ShouldEqual, "repainted")
			})
		})
	})
}

func TestVerdict(t *testing.T) {
	Convey("Given verdict labels", t, func() {
		v, err := model.ParseVerdict("Buff it")
		So(err, ShouldBeNil)
		So(v, ShouldEqual, model.VerdictBuff)

		v, err = model.ParseVerdict("frame")
		So(err, ShouldBeNil)
		So(v, ShouldEqual, model.VerdictFrame)

		_, err = model.ParseVerdict("keep")
		So(errors.Is(err, model.ErrInvalidVerdict), ShouldBeTrue)
	})
}

func TestVoteInput(t *testing.T) {
	Convey("Given vote inputs", t, func() {
		Convey("When nothing is set", func() {
			So(model.VoteInput{SpotID: "s"}.Validate(), ShouldEqual, model.ErrEmptyVote)
		})

		Convey("When the verdict is both set and cleared", func() {
			in := model.VoteInput{SpotID: "s", Verdict: model.VerdictBuff.Ptr(), ClearVerdict: true}
			So(in.Validate(), ShouldEqual, model.ErrConflictingVote)
		})

		Convey("When the rating is out of range", func() {
			in := model.VoteInput{SpotID: "s", Rating: intp(9)}
			So(errors.Is(in.Validate(), model.ErrInvalidRating), ShouldBeTrue)
		})

		Convey("When a rating is merged into a row with a verdict", func() {
			row := model.VoteRow{Verdict: model.VerdictFrame.Ptr()}
			row = row.Merge(model.VoteInput{SpotID: "s", Rating: intp(4)})

			Convey("Then the verdict should survive", func() {
				So(*row.Rating, ShouldEqual, 4)
				So(*row.Verdict, ShouldEqual, model.VerdictFrame)
			})

			Convey("And clearing the verdict should keep the rating", func() {
				row = row.Merge(model.VoteInput{SpotID: "s", ClearVerdict: true})
				So(*row.Rating, ShouldEqual, 4)
				So(row.Verdict, ShouldBeNil)
			})
		})

		Convey("When listing written fields", func() {
			in := model.VoteInput{SpotID: "s", Rating: intp(2), ClearVerdict: true}
			So(in.Fields(), ShouldResemble, []string{"rating", "clear_verdict"})
		})
	})
}

func TestValidateVoterID(t *testing.T) {
	Convey("Given voter ids", t, func() {
		So(model.ValidateVoterID("6f1c0f8e-3d2b-4b8e-9a57-1c2d3e4f5a6b"), ShouldBeNil)
		So(errors.Is(model.ValidateVoterID("nope"), model.ErrInvalidVoterID), ShouldBeTrue)
	})
}
