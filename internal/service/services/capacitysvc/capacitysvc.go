package capacitysvc

import (
	"context"
	"log/slog"
	"time"

	"github.com/corray333/labshop/internal/config"
	"github.com/corray333/labshop/internal/service/models/order"
	"go.opentelemetry.io/otel"
)

type orderCounter interface {
	CountByStates(ctx context.Context, states []order.State) (int, error)
}

// Snapshot is the derived occupancy used for a promise.
type Snapshot struct {
	Occupying      int       `json:"occupying"`
	WeeklyCapacity int       `json:"weeklyCapacity"`
	WeeksOffset    int       `json:"weeksOffset"`
	PromisedDate   time.Time `json:"-"`
	// Fallback is true when the count could not be read.
	Fallback bool `json:"fallback"`
}

// Estimator promises fulfillment dates from the number of in-flight orders.
type Estimator struct {
	counter        orderCounter
	weeklyCapacity int
	location       *time.Location
	now            func() time.Time
}

type option func(*Estimator)

// MustNewEstimator creates a new Estimator.
func MustNewEstimator(opts ...option) *Estimator {
	cfg := config.Fulfillment{}.WithDefaults()
	e := &Estimator{
		weeklyCapacity: cfg.WeeklyCapacity,
		location:       cfg.Location,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.counter == nil {
		panic("capacitysvc: order counter is required")
	}

	return e
}

// WithOrderCounter sets the storage used to count occupying orders.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithOrderCounter(counter orderCounter) option {
	return func(e *Estimator) {
		e.counter = counter
	}
}

// WithFulfillmentConfig sets the weekly capacity and the timezone "today" is evaluated in.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithFulfillmentConfig(cfg config.Fulfillment) option {
	return func(e *Estimator) {
		cfg = cfg.WithDefaults()
		e.weeklyCapacity = cfg.WeeklyCapacity
		e.location = cfg.Location
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithClock(now func() time.Time) option {
	return func(e *Estimator) {
		if now != nil {
			e.now = now
		}
	}
}

// Estimate returns the promised fulfillment date. It never fails: an unreadable count
// falls back to one week from today.
func (e *Estimator) Estimate(ctx context.Context) time.Time {
	return e.Snapshot(ctx).PromisedDate
}

// Snapshot returns the occupancy behind the current estimate.
func (e *Estimator) Snapshot(ctx context.Context) Snapshot {
	ctx, span := otel.Tracer("service").Start(ctx, "Capacity.Estimate")
	defer span.End()

	today := e.today()
	snap := Snapshot{WeeklyCapacity: e.weeklyCapacity}

	count, err := e.counter.CountByStates(ctx, order.OccupyingStates())
	if err != nil {
		slog.Error("Failed to count occupying orders, promising one week out", "error", err)
		snap.Fallback = true
		snap.WeeksOffset = 1
		snap.PromisedDate = NextBusinessDay(today.AddDate(0, 0, 7))

		return snap
	}

	snap.Occupying = count
	snap.WeeksOffset = count / e.weeklyCapacity
	snap.PromisedDate = NextBusinessDay(today.AddDate(0, 0, 7*snap.WeeksOffset))

	return snap
}

func (e *Estimator) today() time.Time {
	now := e.now().In(e.location)
	y, m, d := now.Date()

	return time.Date(y, m, d, 0, 0, 0, 0, e.location)
}

// NextBusinessDay moves a Saturday or Sunday to the following Monday.
func NextBusinessDay(day time.Time) time.Time {
	switch day.Weekday() {
	case time.Saturday:
		return day.AddDate(0, 0, 2)
	case time.Sunday:
		return day.AddDate(0, 0, 1)
	default:
		return day
	}
}
