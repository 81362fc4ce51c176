package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/marcus-crane/marquee/db"
	"github.com/marcus-crane/marquee/models"
)

type Backend interface {
	VerifyDevice(ctx context.Context, deviceID string) (bool, string, error)
	SendHeartbeat(ctx context.Context, deviceID string) (models.HeartbeatRecord, error)
}

// Identity is an immutable snapshot of a bound device. Done is closed once
// the identity is cleared, either by logout or by remote revocation.
type Identity struct {
	ID   string
	Name string
	done chan struct{}
}

func (i *Identity) Done() <-chan struct{} {
	return i.done
}

// Session is the single owner of the device identity. Readers always see a
// whole Identity or none at all.
type Session struct {
	backend Backend
	prefs   db.Preferences

	// writers are serialised, readers go straight to the pointer
	m        sync.Mutex
	identity atomic.Pointer[Identity]

	lastHeartbeat atomic.Pointer[models.HeartbeatRecord]
	onRevoked     func(Identity)
}

func New(backend Backend, prefs db.Preferences) *Session {
	return &Session{
		backend: backend,
		prefs:   prefs,
	}
}

// OnRevoked registers a hook that runs after the backend reported the bound
// device as gone and the identity has been cleared.
func (s *Session) OnRevoked(fn func(Identity)) {
	s.onRevoked = fn
}

func (s *Session) Current() (*Identity, bool) {
	ident := s.identity.Load()
	return ident, ident != nil
}

func (s *Session) LastHeartbeat() (models.HeartbeatRecord, bool) {
	record := s.lastHeartbeat.Load()
	if record == nil {
		return models.HeartbeatRecord{}, false
	}
	return *record, true
}

// Load restores the persisted identity and verifies it against the backend.
// A device the backend no longer knows about is cleared. When the backend
// can't be reached the identity is kept so cached content keeps playing.
func (s *Session) Load(ctx context.Context) (*Identity, bool) {
	id, err := s.prefs.GetPreference(db.KeyDeviceID)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			slog.Warn("Failed to read stored device id", slog.String("error", err.Error()))
		}
		return nil, false
	}
	name, _ := s.prefs.GetPreference(db.KeyDeviceName)

	s.m.Lock()
	ident := &Identity{ID: id, Name: name, done: make(chan struct{})}
	s.swap(ident)
	s.m.Unlock()

	slog.Info("Loaded stored device", slog.String("device_id", id))

	s.verify(ctx, ident)
	return s.Current()
}

// Bind persists the identity and then publishes it. When persisting fails the
// identity still applies for the rest of this run.
func (s *Session) Bind(ctx context.Context, id, name string) *Identity {
	s.m.Lock()
	defer s.m.Unlock()

	if err := s.prefs.SetPreference(db.KeyDeviceID, id); err != nil {
		slog.Warn("Failed to persist device id, keeping it in memory only", slog.String("error", err.Error()))
	}
	if name != "" {
		if err := s.prefs.SetPreference(db.KeyDeviceName, name); err != nil {
			slog.Warn("Failed to persist device name", slog.String("error", err.Error()))
		}
	}

	ident := &Identity{ID: id, Name: name, done: make(chan struct{})}
	s.swap(ident)
	slog.Info("Bound device", slog.String("device_id", id))
	return ident
}

// Clear wipes the stored identity and closes Done on the current one.
func (s *Session) Clear(ctx context.Context) {
	s.m.Lock()
	defer s.m.Unlock()
	s.clearLocked()
}

func (s *Session) clearLocked() {
	if err := s.prefs.DeletePreference(db.KeyDeviceID, db.KeyDeviceName); err != nil {
		slog.Warn("Failed to remove stored device", slog.String("error", err.Error()))
	}
	if old := s.identity.Swap(nil); old != nil {
		close(old.done)
		slog.Info("Cleared device", slog.String("device_id", old.ID))
	}
}

// swap must be called with m held. The replaced identity is finished.
func (s *Session) swap(ident *Identity) {
	if old := s.identity.Swap(ident); old != nil && old.done != ident.done {
		close(old.done)
	}
}

// HeartbeatTick sends one liveness signal for the bound device. It is a no-op
// when nothing is bound and failures are only logged.
func (s *Session) HeartbeatTick(ctx context.Context) {
	ident, ok := s.Current()
	if !ok {
		return
	}
	record, err := s.backend.SendHeartbeat(ctx, ident.ID)
	if err != nil {
		slog.Warn("Failed to send heartbeat",
			slog.String("device_id", ident.ID),
			slog.String("error", err.Error()))
		return
	}
	s.lastHeartbeat.Store(&record)
	slog.Debug("Sent heartbeat", slog.String("device_id", ident.ID))
}

// ExistenceCheckTick re-verifies the bound device, clearing it if the
// backend has removed it.
func (s *Session) ExistenceCheckTick(ctx context.Context) {
	ident, ok := s.Current()
	if !ok {
		return
	}
	s.verify(ctx, ident)
}

// verify reports whether ident is still usable.
func (s *Session) verify(ctx context.Context, ident *Identity) bool {
	exists, name, err := s.backend.VerifyDevice(ctx, ident.ID)
	if err != nil {
		slog.Warn("Failed to verify device, keeping identity",
			slog.String("device_id", ident.ID),
			slog.String("error", err.Error()))
		return true
	}

	s.m.Lock()
	if cur := s.identity.Load(); cur == nil || cur.done != ident.done {
		// rebound or cleared while we were asking
		s.m.Unlock()
		return false
	}
	if !exists {
		slog.Warn("Device no longer exists on the backend, clearing", slog.String("device_id", ident.ID))
		s.clearLocked()
		s.m.Unlock()
		if s.onRevoked != nil {
			s.onRevoked(*ident)
		}
		return false
	}
	if name != "" && name != ident.Name {
		if err := s.prefs.SetPreference(db.KeyDeviceName, name); err != nil {
			slog.Warn("Failed to persist device name", slog.String("error", err.Error()))
		}
		// same binding, so the done channel carries over
		s.identity.Store(&Identity{ID: ident.ID, Name: name, done: ident.done})
	}
	s.m.Unlock()
	return true
}
