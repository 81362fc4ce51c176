package notify

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gregdel/pushover"

	"github.com/marcus-crane/marquee/models"
)

// Notifier tells whoever looks after the screens that something needs a
// human.
type Notifier interface {
	PairingCode(attempt models.PairingAttempt) error
	DeviceRevoked(device models.Device) error
}

// New returns a Pushover notifier, or one that only logs when no token is
// configured.
func New(token, recipient string) Notifier {
	if token == "" || recipient == "" {
		slog.Info("Pushover is not configured, alerts will only be logged")
		return Discard{}
	}
	return &Pushover{
		app:       pushover.New(token),
		recipient: pushover.NewRecipient(recipient),
		now:       time.Now,
	}
}

type Pushover struct {
	app       *pushover.Pushover
	recipient *pushover.Recipient
	now       func() time.Time
}

func (p *Pushover) PairingCode(attempt models.PairingAttempt) error {
	message := &pushover.Message{
		Message:   fmt.Sprintf("Enter %s in the dashboard to claim device %s", attempt.Code, attempt.DeviceID),
		Title:     "A Marquee screen is waiting to be paired",
		Timestamp: p.now().Unix(),
	}
	return p.send(message)
}

func (p *Pushover) DeviceRevoked(device models.Device) error {
	name := device.Name
	if name == "" {
		name = device.ID
	}
	message := &pushover.Message{
		Message:   fmt.Sprintf("%s was removed from the backend and has gone back to pairing", name),
		Title:     "A Marquee screen was unpaired",
		Priority:  pushover.PriorityHigh,
		Timestamp: p.now().Unix(),
	}
	return p.send(message)
}

func (p *Pushover) send(message *pushover.Message) error {
	if _, err := p.app.SendMessage(message, p.recipient); err != nil {
		return fmt.Errorf("failed to send pushover alert: %w", err)
	}
	slog.Debug("Sent pushover alert", slog.String("title", message.Title))
	return nil
}

type Discard struct{}

func (Discard) PairingCode(attempt models.PairingAttempt) error {
	slog.Info("Pairing code issued", slog.String("code", attempt.Code))
	return nil
}

func (Discard) DeviceRevoked(device models.Device) error {
	slog.Warn("Device was revoked", slog.String("device_id", device.ID))
	return nil
}
