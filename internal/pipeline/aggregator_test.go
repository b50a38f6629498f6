package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sentrilab/pulse/internal/adapters/repository"
	"github.com/sentrilab/pulse/internal/domain/model"
	"github.com/sentrilab/pulse/internal/pipeline"
	. "github.com/smartystreets/goconvey/convey"
)

func seedScore(ctx context.Context, store *repository.MemStore, w model.Window, customerID string, s float64, c model.Counts) error {
	_, err := store.InsertScore(ctx, model.SentimentRecord{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		Window:     w,
		Score:      s,
		Counts:     c,
		Trend:      model.TrendStable,
		ComputedAt: w.End,
	})
	return err
}

func TestAggregator_Aggregate(t *testing.T) {
	ctx := context.Background()
	w := testWindow(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))

	Convey("Given sentiment records across two industries", t, func() {
		store := repository.NewMemStore(repository.WithCustomers([]model.Customer{
			{ID: "acme", Name: "Acme Corp", Industry: "Technology"},
			{ID: "initech", Name: "Initech", Industry: "Technology"},
			{ID: "globex", Name: "Globex", Industry: "Finance"},
		}))
		agg := pipeline.NewAggregator(store)

		So(seedScore(ctx, store, w, "acme", 0.9, model.Counts{FN: 80, FP: 20}), ShouldBeNil)
		So(seedScore(ctx, store, w, "initech", 0.7, model.Counts{FN: 10, FP: 10}), ShouldBeNil)
		So(seedScore(ctx, store, w, "globex", 0.4, model.Counts{FN: 5, FP: 15}), ShouldBeNil)

		Convey("When the window is aggregated", func() {
			n, err := agg.Aggregate(ctx, w)

			Convey("Then one segment per industry is written", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 2)

				segments, err := store.SegmentsForWindow(ctx, w)
				So(err, ShouldBeNil)
				So(segments, ShouldHaveLength, 2)

				finance, tech := segments[0], segments[1]
				So(finance.Industry, ShouldEqual, "Finance")
				So(finance.CustomerCount, ShouldEqual, 1)
				So(finance.AvgScore, ShouldAlmostEqual, 0.4, 1e-12)
				So(finance.MedianScore, ShouldAlmostEqual, 0.4, 1e-12)
				So(finance.StdDev, ShouldEqual, 0)
				So(finance.TotalFN, ShouldEqual, 5)
				So(finance.TotalFP, ShouldEqual, 15)
				So(finance.Trend, ShouldEqual, model.TrendStable)

				So(tech.Industry, ShouldEqual, "Technology")
				So(tech.CustomerCount, ShouldEqual, 2)
				So(tech.AvgScore, ShouldAlmostEqual, 0.8, 1e-12)
				So(tech.MedianScore, ShouldAlmostEqual, 0.9, 1e-12)
				So(tech.StdDev, ShouldAlmostEqual, 0.1, 1e-12)
				So(tech.TotalFN, ShouldEqual, 90)
				So(tech.TotalFP, ShouldEqual, 30)
			})

			Convey("And the overall record rolls up the whole population", func() {
				So(err, ShouldBeNil)
				overall, err := store.OverallForWindow(ctx, w)
				So(err, ShouldBeNil)

				So(overall.CustomerCount, ShouldEqual, 3)
				So(overall.AvgScore, ShouldAlmostEqual, 2.0/3.0, 1e-12)
				// weights are report volumes: 100, 20, 20
				So(overall.WeightedScore, ShouldAlmostEqual, (0.9*100+0.7*20+0.4*20)/140, 1e-12)
				So(overall.Variance, ShouldAlmostEqual, 114.0/2700.0, 1e-12)
				So(overall.TotalFN, ShouldEqual, 95)
				So(overall.TotalFP, ShouldEqual, 45)
				So(overall.TopSegment, ShouldEqual, "Technology")
				So(overall.BottomSegment, ShouldEqual, "Finance")
				So(overall.Trend, ShouldEqual, model.TrendStable)
			})
		})

		Convey("When the window is aggregated twice", func() {
			_, err := agg.Aggregate(ctx, w)
			So(err, ShouldBeNil)
			n, err := agg.Aggregate(ctx, w)

			Convey("Then the rollup is replaced, never duplicated", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 2)

				segments, err := store.SegmentsForWindow(ctx, w)
				So(err, ShouldBeNil)
				So(segments, ShouldHaveLength, 2)
			})
		})
	})

	Convey("Given a window with no sentiment records", t, func() {
		store := repository.NewMemStore()
		agg := pipeline.NewAggregator(store)

		Convey("When the window is aggregated", func() {
			n, err := agg.Aggregate(ctx, w)

			Convey("Then no rows are produced at all", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 0)

				_, err := store.OverallForWindow(ctx, w)
				So(err, ShouldEqual, repository.ErrNotFound)
			})
		})
	})

	Convey("Given a previous window's rollup", t, func() {
		store := repository.NewMemStore(repository.WithCustomers([]model.Customer{
			{ID: "acme", Name: "Acme Corp", Industry: "Technology"},
		}))
		agg := pipeline.NewAggregator(store)

		prev := testWindow(w.Start.Add(-time.Hour))
		So(seedScore(ctx, store, prev, "acme", 0.5, model.Counts{FN: 5, FP: 5}), ShouldBeNil)
		_, err := agg.Aggregate(ctx, prev)
		So(err, ShouldBeNil)

		Convey("When the next window scores noticeably higher", func() {
			So(seedScore(ctx, store, w, "acme", 0.7, model.Counts{FN: 7, FP: 3}), ShouldBeNil)
			_, err := agg.Aggregate(ctx, w)

			Convey("Then segment and overall trends flip to improving", func() {
				So(err, ShouldBeNil)

				segments, err := store.SegmentsForWindow(ctx, w)
				So(err, ShouldBeNil)
				So(segments, ShouldHaveLength, 1)
				So(segments[0].Trend, ShouldEqual, model.TrendImproving)

				overall, err := store.OverallForWindow(ctx, w)
				So(err, ShouldBeNil)
				So(overall.Trend, ShouldEqual, model.TrendImproving)
			})
		})
	})

	Convey("Given a record whose customer is missing from the directory", t, func() {
		store := repository.NewMemStore()
		agg := pipeline.NewAggregator(store)
		So(seedScore(ctx, store, w, "ghost", 0.6, model.Counts{FN: 3, FP: 2}), ShouldBeNil)

		Convey("When the window is aggregated", func() {
			n, err := agg.Aggregate(ctx, w)

			Convey("Then the record lands in the unknown segment", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)

				segments, err := store.SegmentsForWindow(ctx, w)
				So(err, ShouldBeNil)
				So(segments[0].Industry, ShouldEqual, "unknown")
			})
		})
	})
}
