package repository_test

import (
	"context"
	"testing"
	"time"

	repository "github.com/sentrilab/pulse/internal/adapters/repository"
	"github.com/sentrilab/pulse/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func windowAt(t time.Time) model.Window {
	return model.Window{Start: t, End: t.Add(time.Hour)}
}

func TestMemStoreCounts(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	Convey("Given an empty store", t, func() {
		store := repository.NewMemStore()
		w := windowAt(base)

		Convey("When counts are recorded twice for the same window", func() {
			So(store.UpsertCounts(ctx, w, map[string]model.Counts{"c1": {FN: 10, FP: 5}}), ShouldBeNil)
			So(store.UpsertCounts(ctx, w, map[string]model.Counts{"c1": {FN: 20, FP: 2}}), ShouldBeNil)

			Convey("Then exactly one row exists with the later values", func() {
				rows, err := store.CountsForWindow(ctx, w)
				So(err, ShouldBeNil)
				So(len(rows), ShouldEqual, 1)
				So(rows[0].Counts, ShouldResemble, model.Counts{FN: 20, FP: 2})
			})
		})

		Convey("When counts are negative", func() {
			err := store.UpsertCounts(ctx, w, map[string]model.Counts{"c1": {FN: -1, FP: 0}})

			Convey("Then the store rejects them", func() {
				So(err, ShouldEqual, repository.ErrNegativeCount)
			})
		})

		Convey("When history is requested", func() {
			for i := 0; i < 15; i++ {
				wi := windowAt(base.Add(-time.Duration(i+1) * time.Hour))
				So(store.UpsertCounts(ctx, wi, map[string]model.Counts{"c1": {FN: i, FP: 0}}), ShouldBeNil)
			}
			history, err := store.HistoryBefore(ctx, "c1", base, 10)

			Convey("Then it is bounded and newest first", func() {
				So(err, ShouldBeNil)
				So(len(history), ShouldEqual, 10)
				for i := 1; i < len(history); i++ {
					So(history[i].Window.Start.Before(history[i-1].Window.Start), ShouldBeTrue)
				}
				So(history[0].Window.Start, ShouldEqual, base.Add(-time.Hour))
			})

			Convey("Then rows at or after the boundary are excluded", func() {
				So(store.UpsertCounts(ctx, windowAt(base), map[string]model.Counts{"c1": {FN: 1, FP: 1}}), ShouldBeNil)
				again, err := store.HistoryBefore(ctx, "c1", base, 20)
				So(err, ShouldBeNil)
				So(len(again), ShouldEqual, 15)
			})
		})
	})
}

func TestMemStoreScores(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	Convey("Given an empty store", t, func() {
		store := repository.NewMemStore()
		w := windowAt(base)
		rec := model.SentimentRecord{
			ID:         "rec-1",
			CustomerID: "c1",
			Window:     w,
			Score:      0.8,
			Method:     "simple_ratio",
		}

		Convey("When a score is inserted twice", func() {
			first, err1 := store.InsertScore(ctx, rec)
			changed := rec
			changed.ID = "rec-2"
			changed.Score = 0.1
			second, err2 := store.InsertScore(ctx, changed)

			Convey("Then the second insert is a no-op", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(first, ShouldBeTrue)
				So(second, ShouldBeFalse)

				scores, err := store.ScoresForWindow(ctx, w)
				So(err, ShouldBeNil)
				So(len(scores), ShouldEqual, 1)
				So(scores[0].ID, ShouldEqual, "rec-1")
				So(scores[0].Score, ShouldEqual, 0.8)
			})
		})

		Convey("When recent scores are requested", func() {
			for i := 0; i < 5; i++ {
				r := rec
				r.ID = ""
				r.Window = windowAt(base.Add(time.Duration(i) * time.Hour))
				r.Score = float64(i) / 10
				_, err := store.InsertScore(ctx, r)
				So(err, ShouldBeNil)
			}
			recent, err := store.RecentScores(ctx, "c1", 3)

			Convey("Then they are bounded and newest first", func() {
				So(err, ShouldBeNil)
				So(len(recent), ShouldEqual, 3)
				So(recent[0].Window.Start, ShouldEqual, base.Add(4*time.Hour))
				So(recent[2].Window.Start, ShouldEqual, base.Add(2*time.Hour))
			})
		})
	})
}

func TestMemStoreSegments(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	Convey("Given a store with one aggregated window", t, func() {
		store := repository.NewMemStore()
		w := windowAt(base)
		segs := []model.SegmentRecord{
			{Industry: "Tech", Window: w, CustomerCount: 2, AvgScore: 0.58},
			{Industry: "Retail", Window: w, CustomerCount: 1, AvgScore: 0.4},
		}
		overall := model.OverallRecord{Window: w, CustomerCount: 3, AvgScore: 0.52}
		So(store.ReplaceWindow(ctx, w, segs, overall), ShouldBeNil)

		Convey("When the window is aggregated again", func() {
			replacement := []model.SegmentRecord{
				{Industry: "Tech", Window: w, CustomerCount: 3, AvgScore: 0.61},
			}
			So(store.ReplaceWindow(ctx, w, replacement, model.OverallRecord{Window: w, CustomerCount: 3, AvgScore: 0.61}), ShouldBeNil)

			Convey("Then the old rows are replaced, not duplicated", func() {
				got, err := store.SegmentsForWindow(ctx, w)
				So(err, ShouldBeNil)
				So(len(got), ShouldEqual, 1)
				So(got[0].CustomerCount, ShouldEqual, 3)

				o, err := store.OverallForWindow(ctx, w)
				So(err, ShouldBeNil)
				So(o.AvgScore, ShouldAlmostEqual, 0.61, 1e-12)
			})
		})

		Convey("When the previous segment is requested", func() {
			next := windowAt(base.Add(time.Hour))
			seg, err := store.PreviousSegment(ctx, "Tech", next.Start)

			Convey("Then the latest earlier record is returned", func() {
				So(err, ShouldBeNil)
				So(seg.Window.Start, ShouldEqual, base)
			})

			Convey("And an unknown industry yields ErrNotFound", func() {
				_, err := store.PreviousSegment(ctx, "Aviation", next.Start)
				So(err, ShouldEqual, repository.ErrNotFound)
			})
		})

		Convey("When the previous overall is requested before any window", func() {
			_, err := store.PreviousOverall(ctx, base)

			Convey("Then ErrNotFound is returned", func() {
				So(err, ShouldEqual, repository.ErrNotFound)
			})
		})
	})
}

func TestMemStoreProgress(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	Convey("Given an empty store", t, func() {
		store := repository.NewMemStore()

		Convey("When no window ever completed", func() {
			last, err := store.LastCompleted(ctx)

			Convey("Then the checkpoint is the zero time", func() {
				So(err, ShouldBeNil)
				So(last.IsZero(), ShouldBeTrue)
			})
		})

		Convey("When windows complete out of order", func() {
			So(store.MarkCompleted(ctx, windowAt(base.Add(time.Hour))), ShouldBeNil)
			So(store.MarkCompleted(ctx, windowAt(base)), ShouldBeNil)

			Convey("Then the checkpoint never moves backwards", func() {
				last, err := store.LastCompleted(ctx)
				So(err, ShouldBeNil)
				So(last, ShouldEqual, base.Add(2*time.Hour))
			})
		})
	})
}
