package signup

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

	"github.com/Additional-Code/signups/internal/cache"
	"github.com/Additional-Code/signups/internal/config"
	"github.com/Additional-Code/signups/internal/messaging"
	"github.com/Additional-Code/signups/internal/notification"
	signupsvc "github.com/Additional-Code/signups/internal/service/signup"
	"github.com/Additional-Code/signups/internal/signup"
	"github.com/Additional-Code/signups/internal/worker"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/signups/worker/signup")

const (
	dedupePrefix    = "signups:events:"
	confirmedPrefix = "signups:confirmed:"
)

// Module registers signup worker handlers.
var Module = fx.Module("worker_signup",
	fx.Provide(
		fx.Annotate(
			NewSignupCreatedHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// Params defines dependencies for the signup worker handlers.
type Params struct {
	fx.In

	Finder   *signup.Finder
	Notifier *notification.Notifier
	Store    cache.Store
	Config   config.Config
	Logger   *zap.Logger
}

// ConfirmationHandler sends a confirmation once per created-signup event.
type ConfirmationHandler struct {
	finder    *signup.Finder
	notifier  *notification.Notifier
	store     cache.Store
	dedupeTTL time.Duration
	logger    *zap.Logger
}

// NewConfirmationHandler builds the handler behind NewSignupCreatedHandler.
func NewConfirmationHandler(p Params) *ConfirmationHandler {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfirmationHandler{
		finder:    p.Finder,
		notifier:  p.Notifier,
		store:     p.Store,
		dedupeTTL: p.Config.Cache.DefaultTTL,
		logger:    logger,
	}
}

// NewSignupCreatedHandler registers the confirmation handler for created signups.
func NewSignupCreatedHandler(p Params) worker.HandlerRegistration {
	h := NewConfirmationHandler(p)

	return worker.HandlerRegistration{
		Topic:     p.Config.Messaging.Kafka.Topic,
		EventType: string(signupsvc.EventCreated),
		Handler:   h.Handle,
	}
}

// Handle processes one signup event. Redeliveries of an already claimed
// event are acknowledged without notifying again.
func (h *ConfirmationHandler) Handle(ctx context.Context, msg messaging.Message) error {
	ctx, span := workerTracer.Start(ctx, "worker.signups.process", trace.WithAttributes(
		attribute.String("messaging.topic", msg.Topic),
	))
	defer span.End()

	var event signupsvc.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.Error("failed to decode signup event", zap.Error(err))

		span.RecordError(err)
		span.SetStatus(codes.Error, "decode error")
		return err
	}
	span.SetAttributes(
		attribute.String("signup.id", event.SignupID),
		attribute.String("event.id", event.ID),
	)
	if event.Type != signupsvc.EventCreated {
		h.logger.Debug("ignoring signup event", zap.String("type", string(event.Type)))

		return nil
	}
	if event.ID == "" || event.SignupID == "" {
		h.logger.Warn("signup event missing ids", zap.String("event_id", event.ID), zap.String("signup_id", event.SignupID))

		return nil
	}

	key := dedupePrefix + event.ID
	owned, err := h.store.Claim(ctx, key, []byte(event.SignupID), h.dedupeTTL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dedupe failed")
		return fmt.Errorf("claim signup event %s: %w", event.ID, err)
	}
	if !owned {
		h.logger.Info("duplicate signup event skipped", zap.String("event_id", event.ID))

		return nil
	}

	found, err := h.finder.Find(ctx, event.SignupID)
	if err != nil {
		// Release the claim so the redelivery gets another chance.
		if delErr := h.store.Delete(ctx, key); delErr != nil {
			h.logger.Warn("release signup event claim", zap.String("event_id", event.ID), zap.Error(delErr))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return fmt.Errorf("fetch signup %s: %w", event.SignupID, err)
	}
	if found == nil {
		h.logger.Info("signup gone before confirmation", zap.String("signup_id", event.SignupID))

		return nil
	}

	confirmedKey := confirmedPrefix + found.ID()
	if _, err := h.store.Get(ctx, confirmedKey); err == nil {
		h.logger.Info("signup already confirmed", zap.String("signup_id", found.ID()), zap.String("event_id", event.ID))

		return nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		h.logger.Warn("read signup confirmation marker", zap.String("signup_id", found.ID()), zap.Error(err))
	}

	recipient, msgOut := h.confirmation(ctx, found)
	if err := h.notifier.Notify(ctx, recipient, msgOut); err != nil {
		if errors.Is(err, notification.ErrNoRoute) {
			h.logger.Info("signup has no notification route", zap.String("signup_id", found.ID()))
		}
		return nil
	}

	if err := h.store.Set(ctx, confirmedKey, []byte(event.ID), h.dedupeTTL); err != nil {
		h.logger.Warn("store signup confirmation marker", zap.String("signup_id", found.ID()), zap.Error(err))
	}

	h.logger.Info("signup confirmation sent",
		zap.String("signup_id", found.ID()),
		zap.String("channel", msgOut.Channel),
	)
	return nil
}

type named interface{ Name() string }

type mailer interface{ Mail() string }

// mailRecipient routes mail to the owning customer's address on behalf of a signup.
type mailRecipient struct {
	key  string
	mail string
}

func (r mailRecipient) RouteNotificationFor(channel string) string {
	if channel == "mail" || channel == "email" {
		return r.mail
	}
	return ""
}

func (r mailRecipient) NotificationKey() string { return r.key }

// confirmation picks the recipient and builds the message. sms wins over
// mail; a signup without any address of its own falls back to its
// customer's mail.
func (h *ConfirmationHandler) confirmation(ctx context.Context, s *signup.Signup) (notification.Notifiable, notification.Message) {
	var recipient notification.Notifiable = s
	channel := "mail"
	switch {
	case s.RouteNotificationFor("sms") != "":
		channel = "sms"
	case s.RouteNotificationFor("mail") == "":
		if c, ok := s.Attr(ctx, "customer").(mailer); ok && c.Mail() != "" {
			recipient = mailRecipient{key: s.NotificationKey(), mail: c.Mail()}
		}
	}

	greeting := "Hi"
	if name := s.Name(); name != "" {
		greeting += " " + name
	}
	body := greeting + ", your signup is confirmed."
	if entry, ok := s.Attr(ctx, "entry").(named); ok && entry.Name() != "" {
		body = greeting + ", your signup for " + entry.Name() + " is confirmed."
	}
	if code := s.Code(); code != "" {
		body += " Your code is " + code + "."
	}
	return recipient, notification.Message{Channel: channel, Subject: "Signup confirmed", Body: body}
}
