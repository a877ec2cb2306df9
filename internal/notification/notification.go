package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/signups/internal/config"
	"github.com/Additional-Code/signups/internal/messaging"
)

var tracer = otel.Tracer("github.com/Additional-Code/signups/notification")

// Published deliveries carry DeliveryKind under HeaderKind so consumers of the
// shared topic can skip them.
const (
	HeaderKind   = "event-type"
	DeliveryKind = "notification.delivery"
)

// ErrNoRoute is returned when the recipient has no address for a channel.
var ErrNoRoute = errors.New("recipient has no route for channel")

// Notifiable is a recipient that knows its address per channel.
type Notifiable interface {
	RouteNotificationFor(channel string) string
	NotificationKey() string
}

// Message is a notification to send over Channel ("sms" or "mail").
type Message struct {
	Channel string
	Subject string
	Body    string
}

// Delivery is a routed message as handed to the transport.
type Delivery struct {
	Recipient string    `json:"recipient"`
	Channel   string    `json:"channel"`
	Address   string    `json:"address"`
	Subject   string    `json:"subject,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Sender hands a delivery to a concrete transport.
type Sender interface {
	Send(ctx context.Context, d Delivery) error
}

// Module provides the notifier to Fx.
var Module = fx.Provide(NewNotifier)

// Notifier routes messages to recipients and sends them through the configured channel.
type Notifier struct {
	sender Sender
	logger *zap.Logger
	now    func() time.Time
}

// NewNotifier selects the sender from configuration.
func NewNotifier(cfg config.Config, publisher messaging.Client, logger *zap.Logger) (*Notifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("notification")

	var sender Sender
	switch cfg.Notification.Channel {
	case "", "log":
		sender = LogSender{logger: logger}
	case "messaging":
		if publisher == nil {
			return nil, errors.New("messaging notification channel requires a messaging client")
		}
		sender = MessagingSender{publisher: publisher}
	default:
		return nil, fmt.Errorf("unsupported notification channel: %s", cfg.Notification.Channel)
	}
	return New(sender, logger), nil
}

// New builds a Notifier around sender.
func New(sender Sender, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{sender: sender, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Notify routes msg to recipient and sends it.
func (n *Notifier) Notify(ctx context.Context, recipient Notifiable, msg Message) error {
	if recipient == nil {
		return errors.New("notification recipient is required")
	}
	ctx, span := tracer.Start(ctx, "Notifier.Notify", trace.WithAttributes(
		attribute.String("notification.recipient", recipient.NotificationKey()),
		attribute.String("notification.channel", msg.Channel),
	))
	defer span.End()

	address := recipient.RouteNotificationFor(msg.Channel)
	if address == "" {
		span.SetStatus(codes.Error, "no route")
		return fmt.Errorf("%s via %s: %w", recipient.NotificationKey(), msg.Channel, ErrNoRoute)
	}

	delivery := Delivery{
		Recipient: recipient.NotificationKey(),
		Channel:   msg.Channel,
		Address:   address,
		Subject:   msg.Subject,
		Body:      msg.Body,
		CreatedAt: n.now(),
	}
	if err := n.sender.Send(ctx, delivery); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		n.logger.Warn("notification send failed",
			zap.String("recipient", delivery.Recipient),
			zap.String("channel", delivery.Channel),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// LogSender writes deliveries to the log.
type LogSender struct {
	logger *zap.Logger
}

func (s LogSender) Send(_ context.Context, d Delivery) error {
	s.logger.Info("notification delivered",
		zap.String("recipient", d.Recipient),
		zap.String("channel", d.Channel),
		zap.String("address", d.Address),
		zap.String("subject", d.Subject),
	)
	return nil
}

// MessagingSender publishes deliveries on the messaging topic for an
// external dispatcher.
type MessagingSender struct {
	publisher messaging.Client
}

func (s MessagingSender) Send(ctx context.Context, d Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}
	return s.publisher.Publish(ctx, messaging.Outbound{
		Key:     []byte(d.Recipient),
		Value:   payload,
		Headers: map[string]string{HeaderKind: DeliveryKind},
	})
}
