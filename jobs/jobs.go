package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
)

const (
	HeartbeatJob      = "heartbeat"
	ExistenceCheckJob = "existence-check"
)

// Ticker is the periodic work a bound device owes the backend.
type Ticker interface {
	HeartbeatTick(ctx context.Context)
	ExistenceCheckTick(ctx context.Context)
}

// Start schedules the heartbeat and existence check for one bound device.
// Both fire immediately and then at their interval. Ticks never overlap
// themselves, a slow tick pushes the next one back instead of stacking.
// Cancelling ctx stops scheduling, Shutdown on the returned scheduler waits
// for in-flight ticks.
func Start(ctx context.Context, ticker Ticker, heartbeat, existence time.Duration) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}

	_, err = s.NewJob(
		gocron.DurationJob(heartbeat),
		gocron.NewTask(ticker.HeartbeatTick),
		gocron.WithName(HeartbeatJob),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		s.Shutdown()
		return nil, fmt.Errorf("failed to schedule %s: %w", HeartbeatJob, err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(existence),
		gocron.NewTask(ticker.ExistenceCheckTick),
		gocron.WithName(ExistenceCheckJob),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		s.Shutdown()
		return nil, fmt.Errorf("failed to schedule %s: %w", ExistenceCheckJob, err)
	}

	s.Start()

	return s, nil
}
