package signup

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/signups/internal/commerce"
	"github.com/Additional-Code/signups/internal/config"
	"github.com/Additional-Code/signups/internal/customer"
	"github.com/Additional-Code/signups/internal/dto"
	"github.com/Additional-Code/signups/internal/messaging"
	"github.com/Additional-Code/signups/internal/relations"
	"github.com/Additional-Code/signups/internal/signup"
	"github.com/Additional-Code/signups/internal/structure"
	"github.com/Additional-Code/signups/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/signups/service/signup")

// Module provides the signup service to Fx.
var Module = fx.Provide(NewService)

// Service exposes the signup finder to transports, translating absence and
// upstream faults into errorbank kinds.
type Service struct {
	finder    *signup.Finder
	logger    *zap.Logger
	publisher messaging.Client
	messaging messagingConfig
	now       func() time.Time
}

// messagingConfig contains messaging specific knobs we care about.
type messagingConfig struct {
	enabled bool
	topic   string
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Finder    *signup.Finder
	Config    config.Config
	Logger    *zap.Logger
	Publisher messaging.Client
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		finder:    p.Finder,
		logger:    logger,
		publisher: p.Publisher,
		messaging: messagingConfig{
			enabled: p.Config.Messaging.Enabled,
			topic:   p.Config.Messaging.Kafka.Topic,
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// List returns every signup.
func (s *Service) List(ctx context.Context) ([]*signup.Signup, error) {
	ctx, span := serviceTracer.Start(ctx, "SignupService.List")
	defer span.End()

	signups, err := s.finder.All(ctx, nil)
	if err != nil {
		return nil, s.translate(span, err, "failed to list signups")
	}
	return signups, nil
}

// Get returns the signup with id or a not-found error.
func (s *Service) Get(ctx context.Context, id string) (*signup.Signup, error) {
	ctx, span := serviceTracer.Start(ctx, "SignupService.Get", trace.WithAttributes(attribute.String("signup.id", id)))
	defer span.End()

	return s.get(ctx, span, id)
}

// View returns the signup with id together with its computed attributes.
func (s *Service) View(ctx context.Context, id string) (*dto.SignupView, error) {
	ctx, span := serviceTracer.Start(ctx, "SignupService.View", trace.WithAttributes(attribute.String("signup.id", id)))
	defer span.End()

	found, err := s.get(ctx, span, id)
	if err != nil {
		return nil, err
	}
	return &dto.SignupView{
		Signup: found,
		Computed: dto.ComputedAttributes{
			Name:             found.Name(),
			PhoneCountryCode: found.Attr(ctx, "phone_countrycode"),
			EntryExists:      found.Attr(ctx, "entry") != nil,
		},
	}, nil
}

// Attribute reads a single attribute of the signup with id. Unknown
// attributes read as nil rather than failing.
func (s *Service) Attribute(ctx context.Context, id, name string) (any, error) {
	ctx, span := serviceTracer.Start(ctx, "SignupService.Attribute", trace.WithAttributes(
		attribute.String("signup.id", id),
		attribute.String("signup.attribute", name),
	))
	defer span.End()

	if strings.TrimSpace(name) == "" {
		return nil, errorbank.BadRequest("attribute name is required")
	}
	found, err := s.get(ctx, span, id)
	if err != nil {
		return nil, err
	}
	return found.Attr(ctx, name), nil
}

// Resolve looks a signup up by code. An unknown code still yields a signup
// wrapping the empty response.
func (s *Service) Resolve(ctx context.Context, code string) (*signup.Signup, error) {
	ctx, span := serviceTracer.Start(ctx, "SignupService.Resolve", trace.WithAttributes(attribute.String("signup.code", code)))
	defer span.End()

	if strings.TrimSpace(code) == "" {
		return nil, errorbank.BadRequest("signup code is required")
	}
	resolved, err := s.finder.Resolve(ctx, code)
	if err != nil {
		return nil, s.translate(span, err, "failed to resolve signup")
	}
	return resolved, nil
}

// Search runs a raw query. No hits yields a nil slice.
func (s *Service) Search(ctx context.Context, query string) ([]*signup.Signup, error) {
	ctx, span := serviceTracer.Start(ctx, "SignupService.Search", trace.WithAttributes(attribute.String("search.query", query)))
	defer span.End()

	hits, err := s.finder.Query(ctx, query)
	if err != nil {
		return nil, s.translate(span, err, "failed to search signups")
	}
	return hits, nil
}

// ForEntry lists the signups of the entry with entryID.
func (s *Service) ForEntry(ctx context.Context, model structure.Model, entryID string) ([]*signup.Signup, error) {
	ctx, span := serviceTracer.Start(ctx, "SignupService.ForEntry", trace.WithAttributes(attribute.String("entry.id", entryID)))
	defer span.End()

	entry, err := entryRef(model, entryID)
	if err != nil {
		return nil, err
	}
	signups, err := s.finder.ForEntry(ctx, entry)
	if err != nil {
		return nil, s.translate(span, err, "failed to list entry signups")
	}
	return signups, nil
}

// CountForEntry counts the signups of the entry with entryID.
func (s *Service) CountForEntry(ctx context.Context, entryID string) (int, error) {
	ctx, span := serviceTracer.Start(ctx, "SignupService.CountForEntry", trace.WithAttributes(attribute.String("entry.id", entryID)))
	defer span.End()

	entry, err := entryRef("", entryID)
	if err != nil {
		return 0, err
	}
	count, err := s.finder.CountForEntry(ctx, entry)
	if err != nil {
		return 0, s.translate(span, err, "failed to count entry signups")
	}
	return count, nil
}

// ForOrder lists the signups placed through the order with orderID.
func (s *Service) ForOrder(ctx context.Context, orderID string) ([]*signup.Signup, error) {
	ctx, span := serviceTracer.Start(ctx, "SignupService.ForOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	if strings.TrimSpace(orderID) == "" {
		return nil, errorbank.BadRequest("order id is required")
	}
	signups, err := s.finder.ForOrder(ctx, commerce.Ref(orderID))
	if err != nil {
		return nil, s.translate(span, err, "failed to list order signups")
	}
	return signups, nil
}

// ForCustomer lists the signups of a customer whose entries still exist.
func (s *Service) ForCustomer(ctx context.Context, customerID string) ([]*signup.Signup, error) {
	ctx, span := serviceTracer.Start(ctx, "SignupService.ForCustomer", trace.WithAttributes(attribute.String("customer.id", customerID)))
	defer span.End()

	if strings.TrimSpace(customerID) == "" {
		return nil, errorbank.BadRequest("customer id is required")
	}
	signups, err := s.finder.User(ctx, customer.Ref(customerID))
	if err != nil {
		return nil, s.translate(span, err, "failed to list customer signups")
	}
	return signups, nil
}

// Create creates a signup from fields and announces it.
func (s *Service) Create(ctx context.Context, fields map[string]any) (*signup.Signup, error) {
	ctx, span := serviceTracer.Start(ctx, "SignupService.Create")
	defer span.End()

	created, err := s.finder.Create(ctx, fields)
	if err != nil {
		return nil, s.translate(span, err, "failed to create signup")
	}
	if created == nil {
		span.SetStatus(codes.Error, "created signup missing")
		return nil, errorbank.Upstream("created signup could not be fetched")
	}

	s.publish(ctx, EventCreated, created)
	return created, nil
}

// CreateForEntry creates a signup attached to the entry with entryID.
func (s *Service) CreateForEntry(ctx context.Context, model structure.Model, entryID string, fields map[string]any) (*signup.Signup, error) {
	ctx, span := serviceTracer.Start(ctx, "SignupService.CreateForEntry", trace.WithAttributes(attribute.String("entry.id", entryID)))
	defer span.End()

	entry, err := entryRef(model, entryID)
	if err != nil {
		return nil, err
	}
	created, err := s.finder.CreateForEntry(ctx, entry, fields)
	if err != nil {
		return nil, s.translate(span, err, "failed to create signup")
	}
	if created == nil {
		span.SetStatus(codes.Error, "created signup missing")
		return nil, errorbank.Upstream("created signup could not be fetched")
	}

	s.publish(ctx, EventCreated, created)
	return created, nil
}

// Delete removes the signup with id and returns the API acknowledgement.
func (s *Service) Delete(ctx context.Context, id string) (json.RawMessage, error) {
	ctx, span := serviceTracer.Start(ctx, "SignupService.Delete", trace.WithAttributes(attribute.String("signup.id", id)))
	defer span.End()

	found, err := s.get(ctx, span, id)
	if err != nil {
		return nil, err
	}
	ack, err := found.Delete(ctx)
	if err != nil {
		return nil, s.translate(span, err, "failed to delete signup")
	}

	s.publish(ctx, EventDeleted, found)
	return ack, nil
}

func (s *Service) get(ctx context.Context, span trace.Span, id string) (*signup.Signup, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errorbank.BadRequest("signup id is required")
	}
	found, err := s.finder.Find(ctx, id)
	if err != nil {
		return nil, s.translate(span, err, "failed to load signup")
	}
	if found == nil {
		return nil, errorbank.NotFound("signup not found", errorbank.WithDetail("id", id))
	}
	return found, nil
}

func (s *Service) translate(span trace.Span, err error, message string) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, message)

	var status *relations.StatusError
	switch {
	case errors.Is(err, signup.ErrNilOwner):
		return errorbank.BadRequest(message, errorbank.WithCause(err))
	case errors.As(err, &status):
		s.logger.Warn(message, zap.Int("status", status.StatusCode), zap.String("path", status.Path), zap.Error(err))
		return errorbank.Upstream(message, errorbank.WithCause(err), errorbank.WithDetail("upstream_status", status.StatusCode))
	case errors.Is(err, relations.ErrUnreachable), errors.Is(err, signup.ErrMissingSignupID), errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn(message, zap.Error(err))
		return errorbank.Upstream(message, errorbank.WithCause(err))
	default:
		s.logger.Error(message, zap.Error(err))
		return errorbank.Internal(message, errorbank.WithCause(err))
	}
}

func (s *Service) publish(ctx context.Context, kind EventType, subject *signup.Signup) {
	if !s.messaging.enabled || s.publisher == nil {
		return
	}
	event := Event{
		ID:         uuid.NewString(),
		Type:       kind,
		SignupID:   subject.ID(),
		EntryID:    subject.EntryID(),
		OccurredAt: s.now(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal signup event", zap.Error(err))
		return
	}
	msg := messaging.Outbound{
		Key:     []byte("signup-" + event.SignupID),
		Value:   payload,
		Headers: map[string]string{HeaderEventType: string(kind)},
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		s.logger.Error("publish signup event",
			zap.String("type", string(kind)),
			zap.String("signup_id", event.SignupID),
			zap.String("topic", s.messaging.topic),
			zap.Error(err),
		)
	}
}

func entryRef(model structure.Model, entryID string) (structure.Entry, error) {
	if strings.TrimSpace(entryID) == "" {
		return nil, errorbank.BadRequest("entry id is required")
	}
	return structure.Ref(model, entryID), nil
}
