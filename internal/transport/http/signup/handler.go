package signup

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/signups/internal/dto"
	"github.com/Additional-Code/signups/internal/payload"
	"github.com/Additional-Code/signups/internal/presentation/http/response"
	service "github.com/Additional-Code/signups/internal/service/signup"
	"github.com/Additional-Code/signups/internal/structure"
	"github.com/Additional-Code/signups/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/signups/transport/http/signup")

const maxBodyBytes = 1 << 20

// Handler exposes signup endpoints over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs a signup Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/signups")
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/search", h.search)
	g.GET("/code/:code", h.resolve)
	g.GET("/:id", h.get)
	g.DELETE("/:id", h.delete)
	g.GET("/:id/attributes/:name", h.attribute)

	entries := e.Group("/entries/:entryId/signups")
	entries.GET("", h.forEntry)
	entries.POST("", h.createForEntry)
	entries.GET("/count", h.countForEntry)

	e.GET("/orders/:orderId/signups", h.forOrder)
	e.GET("/customers/:customerId/signups", h.forCustomer)
}

func (h *Handler) list(c echo.Context) error {
	b := response.New(c)

	ctx, span := httpTracer.Start(c.Request().Context(), "signups.list")
	defer span.End()

	signups, err := h.svc.List(ctx)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(signups).WithCount(len(signups)).Build()
}

func (h *Handler) get(c echo.Context) error {
	b := response.New(c)
	id := c.Param("id")

	ctx, span := httpTracer.Start(c.Request().Context(), "signups.get", trace.WithAttributes(attribute.String("signup.id", id)))
	defer span.End()

	if c.QueryParam("expand") == "computed" {
		view, err := h.svc.View(ctx, id)
		if err != nil {
			return b.WithError(err).Build()
		}
		return b.WithData(view).Build()
	}

	found, err := h.svc.Get(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(found).Build()
}

func (h *Handler) attribute(c echo.Context) error {
	b := response.New(c)
	id, name := c.Param("id"), c.Param("name")

	ctx, span := httpTracer.Start(c.Request().Context(), "signups.attribute", trace.WithAttributes(
		attribute.String("signup.id", id),
		attribute.String("signup.attribute", name),
	))
	defer span.End()

	value, err := h.svc.Attribute(ctx, id, name)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.AttributeResponse{Name: name, Value: dto.AttributeValue(value)}).Build()
}

func (h *Handler) delete(c echo.Context) error {
	b := response.New(c)
	id := c.Param("id")

	ctx, span := httpTracer.Start(c.Request().Context(), "signups.delete", trace.WithAttributes(attribute.String("signup.id", id)))
	defer span.End()

	ack, err := h.svc.Delete(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(ack).Build()
}

func (h *Handler) resolve(c echo.Context) error {
	b := response.New(c)
	code := c.Param("code")

	ctx, span := httpTracer.Start(c.Request().Context(), "signups.resolve", trace.WithAttributes(attribute.String("signup.code", code)))
	defer span.End()

	resolved, err := h.svc.Resolve(ctx, code)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(resolved).Build()
}

func (h *Handler) search(c echo.Context) error {
	b := response.New(c)
	query := c.QueryParam("q")

	ctx, span := httpTracer.Start(c.Request().Context(), "signups.search", trace.WithAttributes(attribute.String("search.query", query)))
	defer span.End()

	hits, err := h.svc.Search(ctx, query)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(hits).WithCount(len(hits)).Build()
}

func (h *Handler) forEntry(c echo.Context) error {
	b := response.New(c)
	entryID := c.Param("entryId")

	ctx, span := httpTracer.Start(c.Request().Context(), "signups.forEntry", trace.WithAttributes(attribute.String("entry.id", entryID)))
	defer span.End()

	signups, err := h.svc.ForEntry(ctx, structure.Model(c.QueryParam("model")), entryID)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(signups).WithCount(len(signups)).Build()
}

func (h *Handler) countForEntry(c echo.Context) error {
	b := response.New(c)
	entryID := c.Param("entryId")

	ctx, span := httpTracer.Start(c.Request().Context(), "signups.countForEntry", trace.WithAttributes(attribute.String("entry.id", entryID)))
	defer span.End()

	count, err := h.svc.CountForEntry(ctx, entryID)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.CountResponse{EntryID: entryID, Count: count}).Build()
}

func (h *Handler) forOrder(c echo.Context) error {
	b := response.New(c)
	orderID := c.Param("orderId")

	ctx, span := httpTracer.Start(c.Request().Context(), "signups.forOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	signups, err := h.svc.ForOrder(ctx, orderID)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(signups).WithCount(len(signups)).Build()
}

func (h *Handler) forCustomer(c echo.Context) error {
	b := response.New(c)
	customerID := c.Param("customerId")

	ctx, span := httpTracer.Start(c.Request().Context(), "signups.forCustomer", trace.WithAttributes(attribute.String("customer.id", customerID)))
	defer span.End()

	signups, err := h.svc.ForCustomer(ctx, customerID)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(signups).WithCount(len(signups)).Build()
}

func (h *Handler) create(c echo.Context) error {
	b := response.New(c)

	fields, err := decodeFields(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "signups.create")
	defer span.End()

	created, err := h.svc.Create(ctx, fields)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithStatus(http.StatusCreated).WithData(created).Build()
}

func (h *Handler) createForEntry(c echo.Context) error {
	b := response.New(c)
	entryID := c.Param("entryId")

	fields, err := decodeFields(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "signups.createForEntry", trace.WithAttributes(attribute.String("entry.id", entryID)))
	defer span.End()

	created, err := h.svc.CreateForEntry(ctx, structure.Model(c.QueryParam("model")), entryID, fields)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithStatus(http.StatusCreated).WithData(created).Build()
}

// decodeFields reads the request body as a JSON object, keeping numbers
// intact. An empty body is an empty object.
func decodeFields(c echo.Context) (map[string]any, error) {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return nil, errorbank.BadRequest("invalid payload", errorbank.WithCause(err))
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	if !json.Valid(raw) || bytes.TrimSpace(raw)[0] != '{' {
		return nil, errorbank.BadRequest("payload must be a JSON object")
	}
	fields, err := payload.Decode(raw)
	if err != nil {
		return nil, errorbank.BadRequest("invalid payload", errorbank.WithCause(err))
	}
	return fields, nil
}
