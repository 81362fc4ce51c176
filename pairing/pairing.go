package pairing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcus-crane/marquee/models"
)

type Backend interface {
	IssuePairingCode(ctx context.Context, deviceID string) (string, error)
	PollPairingClaim(ctx context.Context, code string) (string, bool, error)
}

type State string

const (
	Idle          State = "idle"
	CodeGenerated State = "code_generated"
	Polling       State = "polling"
	Claimed       State = "claimed"
)

var ErrAlreadyStarted = errors.New("pairing has already been started")

type Snapshot struct {
	State   State                 `json:"state"`
	Attempt models.PairingAttempt `json:"attempt"`
}

// Controller walks a device from unpaired to claimed exactly once. Codes
// never expire, polling only stops on a claim or when ctx is cancelled.
type Controller struct {
	backend  Backend
	interval time.Duration
	newID    func() string

	m        sync.Mutex
	started  bool
	snapshot Snapshot
	observer func(Snapshot)
}

func New(backend Backend, interval time.Duration) *Controller {
	return &Controller{
		backend:  backend,
		interval: interval,
		newID:    uuid.NewString,
		snapshot: Snapshot{State: Idle},
	}
}

// OnTransition registers fn to receive every state change. Call it before
// Run.
func (c *Controller) OnTransition(fn func(Snapshot)) {
	c.m.Lock()
	defer c.m.Unlock()
	c.observer = fn
}

func (c *Controller) State() Snapshot {
	c.m.Lock()
	defer c.m.Unlock()
	return c.snapshot
}

func (c *Controller) transition(state State, attempt models.PairingAttempt) {
	c.m.Lock()
	c.snapshot = Snapshot{State: state, Attempt: attempt}
	observer := c.observer
	snapshot := c.snapshot
	c.m.Unlock()

	slog.Info("Pairing state changed",
		slog.String("state", string(state)),
		slog.String("device_id", attempt.DeviceID),
		slog.String("code", attempt.Code))
	if observer != nil {
		observer(snapshot)
	}
}

// Run pairs deviceID, or a freshly generated id when it is empty, and
// returns the claimed attempt.
func (c *Controller) Run(ctx context.Context, deviceID string) (models.PairingAttempt, error) {
	c.m.Lock()
	if c.started {
		c.m.Unlock()
		return models.PairingAttempt{}, ErrAlreadyStarted
	}
	c.started = true
	if deviceID == "" {
		deviceID = c.newID()
	}
	c.snapshot.Attempt = models.PairingAttempt{DeviceID: deviceID, Status: models.ClaimUnknown}
	c.m.Unlock()

	code, err := c.issue(ctx, deviceID)
	if err != nil {
		return c.State().Attempt, err
	}

	attempt := models.PairingAttempt{Code: code, DeviceID: deviceID, Status: models.ClaimPending}
	c.transition(CodeGenerated, attempt)
	c.transition(Polling, attempt)

	for {
		if err := c.wait(ctx); err != nil {
			return attempt, err
		}
		owner, claimed, err := c.backend.PollPairingClaim(ctx, code)
		if err != nil {
			slog.Warn("Failed to poll pairing claim, retrying",
				slog.String("code", code),
				slog.String("error", err.Error()))
			continue
		}
		if claimed {
			attempt.Status = models.ClaimClaimed
			attempt.OwnerID = owner
			c.transition(Claimed, attempt)
			return attempt, nil
		}
	}
}

// issue keeps asking for a code at the poll interval until one is handed
// out.
func (c *Controller) issue(ctx context.Context, deviceID string) (string, error) {
	for {
		code, err := c.backend.IssuePairingCode(ctx, deviceID)
		if err == nil {
			return code, nil
		}
		slog.Warn("Failed to issue pairing code, retrying",
			slog.String("device_id", deviceID),
			slog.String("error", err.Error()))
		if err := c.wait(ctx); err != nil {
			return "", err
		}
	}
}

func (c *Controller) wait(ctx context.Context) error {
	t := time.NewTimer(c.interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
