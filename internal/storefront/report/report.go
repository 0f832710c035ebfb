// Package report produces the daily sales summary.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/nazeru/storefront-checkout-go/internal/storefront/domain"
)

type Summaries interface {
	SalesSummary(ctx context.Context, r domain.DateRange) ([]domain.SalesSummaryRow, error)
}

type Dispatcher interface {
	EnqueueDailySummary(ctx context.Context, r domain.DateRange, rows []domain.SalesSummaryRow) error
}

type Summary struct {
	Range domain.DateRange
	Rows  []domain.SalesSummaryRow
}

type Job struct {
	store    Summaries
	notifier Dispatcher
	loc      *time.Location
	logger   *zap.Logger
	timeout  time.Duration
	group    singleflight.Group
	now      func() time.Time
}

func NewJob(st Summaries, n Dispatcher, loc *time.Location, logger *zap.Logger) *Job {
	if loc == nil {
		loc = time.UTC
	}
	return &Job{store: st, notifier: n, loc: loc, logger: logger, timeout: time.Minute, now: time.Now}
}

// Run summarises the calendar day containing day in the job's location and
// enqueues one summary. Concurrent runs for the same day share one result,
// bounded by the job timeout rather than any single caller's context.
func (j *Job) Run(ctx context.Context, day time.Time) (Summary, error) {
	r := domain.DayRange(day.In(j.loc))
	key := r.From.Format(time.DateOnly)

	v, err, shared := j.group.Do(key, func() (interface{}, error) {
		// the flight is shared, so one caller going away must not fail the others
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.timeout)
		defer cancel()
		rows, err := j.store.SalesSummary(ctx, r)
		if err != nil {
			return nil, fmt.Errorf("sales summary %s: %w", key, err)
		}
		if err := j.notifier.EnqueueDailySummary(ctx, r, rows); err != nil {
			return nil, fmt.Errorf("enqueue summary %s: %w", key, err)
		}
		return Summary{Range: r, Rows: rows}, nil
	})
	if err != nil {
		j.logger.Error("daily report failed", zap.String("day", key), zap.Error(err))
		return Summary{}, err
	}
	s := v.(Summary)
	j.logger.Info("daily report enqueued",
		zap.String("day", key),
		zap.Int("products", len(s.Rows)),
		zap.Bool("shared", shared))
	return s, nil
}

// ParseDay reads YYYY-MM-DD in the job's location; empty means today.
func (j *Job) ParseDay(s string) (time.Time, error) {
	if s == "" {
		return j.now().In(j.loc), nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, j.loc)
	if err != nil {
		return time.Time{}, domain.NewValidationError("date", "Date must be in YYYY-MM-DD format.")
	}
	return t, nil
}

// Schedule registers the job on a cron spec evaluated in the job's location.
// The caller starts and stops the returned scheduler.
func (j *Job) Schedule(spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(j.loc))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		defer cancel()
		_, _ = j.Run(ctx, j.now())
	})
	if err != nil {
		return nil, fmt.Errorf("report schedule %q: %w", spec, err)
	}
	return c, nil
}
