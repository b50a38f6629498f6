package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sentrilab/pulse/internal/adapters/repository"
	"github.com/sentrilab/pulse/internal/domain/model"
	"github.com/sentrilab/pulse/internal/domain/score"
	"github.com/sentrilab/pulse/internal/pipeline"
	. "github.com/smartystreets/goconvey/convey"
)

func TestCalculator_ComputeWindow(t *testing.T) {
	ctx := context.Background()
	w := testWindow(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))

	Convey("Given a calculator over a seeded store", t, func() {
		store := repository.NewMemStore(
			repository.WithCustomers([]model.Customer{
				{ID: "acme", Name: "Acme Corp", Industry: "Technology"},
			}),
			repository.WithBaselines([]model.IndustryBaseline{
				{Industry: "Technology", Score: 0.6},
			}),
		)
		calc := pipeline.NewCalculator(store, score.NewEngine(), pipeline.WithWorkerCount(2))

		Convey("When a first-window customer is scored against a baseline", func() {
			So(store.UpsertCounts(ctx, w, map[string]model.Counts{"acme": {FN: 80, FP: 20}}), ShouldBeNil)
			res, err := calc.ComputeWindow(ctx, w)

			Convey("Then the record holds the normalized simple ratio", func() {
				So(err, ShouldBeNil)
				So(res.Scored, ShouldEqual, 1)
				So(res.Skipped, ShouldEqual, 0)
				So(res.Failures, ShouldBeEmpty)

				recs, err := store.ScoresForWindow(ctx, w)
				So(err, ShouldBeNil)
				So(recs, ShouldHaveLength, 1)
				// ratio 0.8, relative to baseline 0.6
				So(recs[0].Score, ShouldAlmostEqual, 0.5+(0.8/0.6-1)*0.5, 1e-9)
				So(recs[0].Method, ShouldEqual, score.MethodSimpleRatio)
				So(recs[0].Trend, ShouldEqual, model.TrendStable)
				So(recs[0].Confidence, ShouldEqual, 1)
				So(recs[0].ID, ShouldNotBeEmpty)
			})
		})

		Convey("When the same window is scored twice", func() {
			So(store.UpsertCounts(ctx, w, map[string]model.Counts{"acme": {FN: 80, FP: 20}}), ShouldBeNil)
			first, err := calc.ComputeWindow(ctx, w)
			So(err, ShouldBeNil)
			before, err := store.ScoresForWindow(ctx, w)
			So(err, ShouldBeNil)

			second, err := calc.ComputeWindow(ctx, w)

			Convey("Then the second pass skips, and the record is untouched", func() {
				So(err, ShouldBeNil)
				So(first.Scored, ShouldEqual, 1)
				So(second.Scored, ShouldEqual, 0)
				So(second.Skipped, ShouldEqual, 1)

				after, err := store.ScoresForWindow(ctx, w)
				So(err, ShouldBeNil)
				So(after, ShouldResemble, before)
			})
		})

		Convey("When the window has no counts at all", func() {
			res, err := calc.ComputeWindow(ctx, w)

			Convey("Then nothing is scored and nothing fails", func() {
				So(err, ShouldBeNil)
				So(res.Scored, ShouldEqual, 0)
				So(res.Skipped, ShouldEqual, 0)
				So(res.Failures, ShouldBeEmpty)
			})
		})
	})

	Convey("Given a customer with prior windows and no baseline", t, func() {
		store := repository.NewMemStore(repository.WithCustomers([]model.Customer{
			{ID: "initech", Name: "Initech", Industry: "Retail"},
		}))
		calc := pipeline.NewCalculator(store, score.NewEngine())

		w1 := testWindow(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
		So(store.UpsertCounts(ctx, w1, map[string]model.Counts{"initech": {FN: 50, FP: 50}}), ShouldBeNil)
		_, err := calc.ComputeWindow(ctx, w1)
		So(err, ShouldBeNil)

		w2 := testWindow(w1.End)
		So(store.UpsertCounts(ctx, w2, map[string]model.Counts{"initech": {FN: 80, FP: 20}}), ShouldBeNil)

		Convey("When the next window is scored", func() {
			res, err := calc.ComputeWindow(ctx, w2)

			Convey("Then history drives a decay-weighted average", func() {
				So(err, ShouldBeNil)
				So(res.Scored, ShouldEqual, 1)

				recs, err := store.ScoresForWindow(ctx, w2)
				So(err, ShouldBeNil)
				So(recs, ShouldHaveLength, 1)
				// (0.8*1 + 0.5*0.9) / 1.9 with the default decay
				So(recs[0].Score, ShouldAlmostEqual, (0.8+0.45)/1.9, 1e-9)
				So(recs[0].Method, ShouldEqual, score.MethodWeightedAverage)
			})
		})
	})

	Convey("Given one customer with a broken industry baseline", t, func() {
		store := repository.NewMemStore(
			repository.WithCustomers([]model.Customer{
				{ID: "acme", Name: "Acme Corp", Industry: "Technology"},
				{ID: "cursed", Name: "Cursed Inc", Industry: "Gambling"},
			}),
			repository.WithBaselines([]model.IndustryBaseline{
				{Industry: "Technology", Score: 0.6},
				{Industry: "Gambling", Score: -0.4},
			}),
		)
		calc := pipeline.NewCalculator(store, score.NewEngine())

		So(store.UpsertCounts(ctx, w, map[string]model.Counts{
			"acme":   {FN: 80, FP: 20},
			"cursed": {FN: 10, FP: 10},
		}), ShouldBeNil)

		Convey("When the window is scored", func() {
			res, err := calc.ComputeWindow(ctx, w)

			Convey("Then the failure is isolated to the broken customer", func() {
				So(err, ShouldBeNil)
				So(res.Scored, ShouldEqual, 1)
				So(res.Failures, ShouldHaveLength, 1)
				So(res.Failures[0].CustomerID, ShouldEqual, "cursed")

				recs, err := store.ScoresForWindow(ctx, w)
				So(err, ShouldBeNil)
				So(recs, ShouldHaveLength, 1)
				So(recs[0].CustomerID, ShouldEqual, "acme")
			})
		})
	})

	Convey("Given a scoring pass under a cancelled context", t, func() {
		store := repository.NewMemStore(repository.WithCustomers([]model.Customer{
			{ID: "acme", Name: "Acme Corp", Industry: "Technology"},
		}))
		calc := pipeline.NewCalculator(store, score.NewEngine())

		So(store.UpsertCounts(ctx, w, map[string]model.Counts{"acme": {FN: 80, FP: 20}}), ShouldBeNil)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		Convey("When the window is scored", func() {
			res, err := calc.ComputeWindow(cancelled, w)

			Convey("Then the pass fails instead of passing off dropped work as done", func() {
				So(err, ShouldNotBeNil)
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
				So(res.Scored, ShouldEqual, 0)
				So(res.Skipped, ShouldEqual, 0)
				So(res.Failures, ShouldBeEmpty)
			})

			Convey("And a retry scores the window in full", func() {
				res, err := calc.ComputeWindow(ctx, w)
				So(err, ShouldBeNil)
				So(res.Scored+res.Skipped, ShouldEqual, 1)

				recs, err := store.ScoresForWindow(ctx, w)
				So(err, ShouldBeNil)
				So(recs, ShouldHaveLength, 1)
			})
		})
	})

	Convey("Given a history deeper than the configured depth", t, func() {
		store := repository.NewMemStore(repository.WithCustomers([]model.Customer{
			{ID: "acme", Name: "Acme Corp", Industry: "Technology"},
		}))
		calc := pipeline.NewCalculator(store, score.NewEngine(score.WithDecay(1e-12)), pipeline.WithHistoryDepth(2))

		// Oldest window carries an extreme ratio; it must fall outside the
		// bounded lookup and never influence the score.
		base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
		for i, c := range []model.Counts{{FN: 0, FP: 100}, {FN: 50, FP: 50}, {FN: 60, FP: 40}} {
			wi := testWindow(base.Add(time.Duration(i) * time.Hour))
			So(store.UpsertCounts(ctx, wi, map[string]model.Counts{"acme": c}), ShouldBeNil)
		}
		current := testWindow(base.Add(3 * time.Hour))
		So(store.UpsertCounts(ctx, current, map[string]model.Counts{"acme": {FN: 80, FP: 20}}), ShouldBeNil)

		Convey("When the current window is scored with a near-zero decay", func() {
			res, err := calc.ComputeWindow(ctx, current)

			Convey("Then only the bounded recent history matters", func() {
				So(err, ShouldBeNil)
				So(res.Scored, ShouldEqual, 1)

				recs, err := store.ScoresForWindow(ctx, current)
				So(err, ShouldBeNil)
				So(recs[0].Score, ShouldAlmostEqual, 0.8, 1e-6)
			})
		})
	})
}

func TestCalculator_TrendLabel(t *testing.T) {
	ctx := context.Background()

	Convey("Given a customer with two diverging prior scores", t, func() {
		store := repository.NewMemStore(repository.WithCustomers([]model.Customer{
			{ID: "acme", Name: "Acme Corp", Industry: "Technology"},
		}))
		calc := pipeline.NewCalculator(store, score.NewEngine())

		base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
		for i, c := range []model.Counts{{FN: 50, FP: 50}, {FN: 70, FP: 30}} {
			wi := testWindow(base.Add(time.Duration(i) * time.Hour))
			So(store.UpsertCounts(ctx, wi, map[string]model.Counts{"acme": c}), ShouldBeNil)
			_, err := calc.ComputeWindow(ctx, wi)
			So(err, ShouldBeNil)
		}

		Convey("When the next window is scored", func() {
			current := testWindow(base.Add(2 * time.Hour))
			So(store.UpsertCounts(ctx, current, map[string]model.Counts{"acme": {FN: 80, FP: 20}}), ShouldBeNil)
			_, err := calc.ComputeWindow(ctx, current)

			Convey("Then the label compares the new score against the latest prior", func() {
				So(err, ShouldBeNil)
				recs, err := store.ScoresForWindow(ctx, current)
				So(err, ShouldBeNil)
				So(recs, ShouldHaveLength, 1)
				So(recs[0].Trend, ShouldEqual, model.TrendImproving)
			})
		})
	})

	Convey("Given a customer with a single prior score", t, func() {
		store := repository.NewMemStore(repository.WithCustomers([]model.Customer{
			{ID: "acme", Name: "Acme Corp", Industry: "Technology"},
		}))
		calc := pipeline.NewCalculator(store, score.NewEngine())

		w1 := testWindow(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
		So(store.UpsertCounts(ctx, w1, map[string]model.Counts{"acme": {FN: 50, FP: 50}}), ShouldBeNil)
		_, err := calc.ComputeWindow(ctx, w1)
		So(err, ShouldBeNil)

		Convey("When the next window scores well above it", func() {
			w2 := testWindow(w1.End)
			So(store.UpsertCounts(ctx, w2, map[string]model.Counts{"acme": {FN: 80, FP: 20}}), ShouldBeNil)
			_, err := calc.ComputeWindow(ctx, w2)

			Convey("Then one prior is enough to label the direction", func() {
				So(err, ShouldBeNil)
				recs, err := store.ScoresForWindow(ctx, w2)
				So(err, ShouldBeNil)
				So(recs, ShouldHaveLength, 1)
				// (0.8 + 0.5*0.9)/1.9 ≈ 0.658 against the prior 0.5
				So(recs[0].Trend, ShouldEqual, model.TrendImproving)
			})
		})
	})
}
