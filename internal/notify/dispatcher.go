package notify

import (
	"context"

	"github.com/Albermonte/validator-election-bot/internal/logger"
)

type ParseMode string

const (
	ParseModeNone ParseMode = ""
	ParseModeHTML ParseMode = "HTML"
)

// Message is a rendered notification.
type Message struct {
	Text string
	Mode ParseMode
}

// Transport delivers text to a chat.
type Transport interface {
	SendMessage(ctx context.Context, chatID int64, text string, mode ParseMode) error
}

// DeliveryObserver is told about every delivery attempt.
type DeliveryObserver interface {
	ObserveDelivery(ok bool)
}

// Dispatcher is a thin pass-through to the transport. Failures are logged and
// returned but never retried.
type Dispatcher struct {
	transport Transport
	observer  DeliveryObserver
}

// NewDispatcher builds a dispatcher. observer may be nil.
func NewDispatcher(t Transport, observer DeliveryObserver) *Dispatcher {
	return &Dispatcher{transport: t, observer: observer}
}

func (d *Dispatcher) Send(ctx context.Context, chatID int64, msg Message) error {
	err := d.transport.SendMessage(ctx, chatID, msg.Text, msg.Mode)
	if d.observer != nil {
		d.observer.ObserveDelivery(err == nil)
	}
	if err != nil {
		logger.Warn("NOTIFY", "Delivery to chat %d failed: %v", chatID, err)
		return err
	}
	logger.Debug("NOTIFY", "Delivered message to chat %d", chatID)
	return nil
}
