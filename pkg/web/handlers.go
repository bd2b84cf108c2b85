// Package web exposes the engine's subscriber API over HTTP for UI
// consumers: event queries, run snapshots and disposal, and the job
// submission/polling surface.
package web

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowdeck/pulse/pkg/correlate"
	"github.com/flowdeck/pulse/pkg/engine"
	"github.com/flowdeck/pulse/pkg/events"
	"github.com/flowdeck/pulse/pkg/otelhelper"
)

type Handlers struct {
	engine   *engine.Engine
	validate *validator.Validate
	logger   *slog.Logger
	tracer   trace.Tracer
}

func NewHandlers(eng *engine.Engine, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}

	return &Handlers{
		engine:   eng,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   log.With("module", "web"),
		tracer:   otel.Tracer("pulse.web"),
	}
}

// App builds the fiber application.
func (h *Handlers) App() *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
	})
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Pulse Gateway")
	})

	e := app.Group("/events")
	e.Get("/", h.GetEvents)
	e.Get("/latest", h.GetLatestEvent)
	e.Post("/", h.InjectEvent)

	r := app.Group("/runs")
	r.Get("/", h.GetRuns)
	r.Get("/:id", h.GetRun)
	r.Delete("/:id", h.DiscardRun)

	j := app.Group("/jobs")
	j.Post("/", h.SubmitJob)
	j.Get("/:slot", h.GetJob)

	return app
}

// GetEvents returns all events of the requested type in arrival order.
func (h *Handlers) GetEvents(c fiber.Ctx) error {
	eventType := c.Query("type")
	if eventType == "" {
		return badRequest(c, "query parameter 'type' is required")
	}

	evts := h.engine.Views.Select(events.EventType(eventType))
	if evts == nil {
		evts = []events.Event{}
	}

	return c.JSON(evts)
}

// GetLatestEvent returns the most recent event of the requested type.
func (h *Handlers) GetLatestEvent(c fiber.Ctx) error {
	eventType := c.Query("type")
	if eventType == "" {
		return badRequest(c, "query parameter 'type' is required")
	}

	evt, ok := h.engine.Views.SelectLatest(events.EventType(eventType))
	if !ok {
		return notFound(c, "no events of type "+eventType)
	}

	return c.JSON(evt)
}

// InjectEvent ingests a raw envelope. Development tooling only; production
// events arrive over the push channel.
func (h *Handlers) InjectEvent(c fiber.Ctx) error {
	body := c.Body()

	valid, details := validateEnvelope(body)
	if !valid {
		return badRequest(c, strings.Join(details, "; "))
	}

	var envelope struct {
		Type string         `json:"type"`
		Data events.Payload `json:"data"`
	}

	if err := json.Unmarshal(body, &envelope); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	h.engine.IngestEnvelope(envelope.Type, envelope.Data)

	return c.SendStatus(fiber.StatusAccepted)
}

// GetRuns returns snapshots of every tracked run.
func (h *Handlers) GetRuns(c fiber.Ctx) error {
	return c.JSON(h.engine.Views.SelectRuns())
}

// GetRun returns the current aggregate snapshot for one run.
func (h *Handlers) GetRun(c fiber.Ctx) error {
	runID := c.Params("id")

	rs, ok := h.engine.Views.SelectRun(runID)
	if !ok {
		return notFound(c, "run not found")
	}

	fraction, determinate := rs.Fraction()

	return c.JSON(fiber.Map{
		"run":         rs,
		"fraction":    fraction,
		"determinate": determinate,
	})
}

// DiscardRun frees a run aggregate, e.g. when the observing panel closes.
func (h *Handlers) DiscardRun(c fiber.Ctx) error {
	h.engine.Progress.Discard(c.Params("id"))

	return c.SendStatus(fiber.StatusNoContent)
}

type submitJobRequest struct {
	Slot string         `json:"slot" validate:"required,min=1"`
	Key  map[string]any `json:"key"  validate:"required,min=1"`
}

// SubmitJob registers a pending correlation job for a consumer slot. A job
// already live in the slot is superseded.
func (h *Handlers) SubmitJob(c fiber.Ctx) error {
	var req submitJobRequest

	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	_, span := otelhelper.StartSpan(c.Context(), h.tracer, "web.jobs submit",
		attribute.String(otelhelper.JobSlotKey, req.Slot),
	)
	defer span.End()

	handle := h.engine.Resolver.Submit(req.Slot, correlate.Key(req.Key))
	span.SetAttributes(attribute.String(otelhelper.JobIDKey, handle.ID()))

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id":       handle.ID(),
		"slot":         req.Slot,
		"status":       handle.Status(),
		"submitted_at": handle.SubmittedAt(),
	})
}

// GetJob returns the slot's current job status and, once resolved, its
// outcome.
func (h *Handlers) GetJob(c fiber.Ctx) error {
	slot := c.Params("slot")

	handle, ok := h.engine.Resolver.Slot(slot)
	if !ok {
		return notFound(c, "no job for slot")
	}

	status := handle.Status()
	resp := fiber.Map{
		"job_id":       handle.ID(),
		"slot":         slot,
		"status":       status,
		"submitted_at": handle.SubmittedAt(),
	}

	switch status {
	case correlate.StatusResolvedSuccess:
		resp["value"] = handle.Result().Value
	case correlate.StatusResolvedFailure:
		res := handle.Result()
		resp["error"] = res.Err
		resp["kind"] = res.Kind
	case correlate.StatusSubmitted, correlate.StatusAbandoned:
	}

	return c.JSON(resp)
}
