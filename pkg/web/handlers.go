// Package web provides the HTTP handlers for campaign management and
// engagement tracking.
package web

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dukex/mailflow/pkg/campaign"
	"github.com/dukex/mailflow/pkg/models"
	"github.com/dukex/mailflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// trackingGIF is the 1x1 transparent image served by the open-tracking
// endpoint.
var trackingGIF, _ = base64.StdEncoding.DecodeString(
	"R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7")

type APIHandlers struct {
	campaignService *campaign.Service
	persistence     persistence.Persistence
	validator       *validator.Validate
	logger          *slog.Logger
}

func NewAPIHandlers(
	logger *slog.Logger,
	campaignService *campaign.Service,
	persistence persistence.Persistence,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		campaignService: campaignService,
		persistence:     persistence,
		validator:       validator,
		logger:          logger.With("module", "web"),
	}
}

// RegisterRoutes wires all campaign endpoints onto the app.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	api := app.Group("/api")

	api.Post("/campaigns", h.CreateCampaign)
	api.Get("/campaigns/:id", h.GetCampaign)
	api.Delete("/campaigns/:id", h.DeleteCampaign)
	api.Post("/campaigns/:id/start", h.StartCampaign)
	api.Post("/campaigns/:id/stop", h.StopCampaign)
	api.Post("/campaigns/:id/resume", h.ResumeCampaign)
	api.Get("/campaigns/:id/events", h.GetCampaignEvents)
	api.Post("/campaigns/:id/stats/rebuild", h.RebuildCampaignStats)

	api.Get("/campaigns/track/open/:campaignId/:email", h.TrackOpen)
	api.Post("/campaigns/track/reply", h.TrackReply)
}

func (h *APIHandlers) CreateCampaign(c fiber.Ctx) error {
	var req CreateCampaignRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created := &models.Campaign{
		Name:              req.Name,
		FlowID:            req.FlowID,
		FlowVersion:       req.FlowVersion,
		AudienceID:        req.AudienceID,
		Sender:            req.Sender,
		TemplateOverrides: req.TemplateOverrides,
		ScheduledAt:       req.ScheduledAt,
	}

	err := h.campaignService.Create(c.Context(), created)
	if err != nil {
		if persistence.IsNotFound(err) {
			return notFound(c, err.Error())
		}

		return badRequest(c, err.Error())
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetCampaign(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Campaign ID is required")
	}

	found, err := h.persistence.Campaigns().GetByID(c.Context(), id)
	if err != nil {
		if persistence.IsCampaignNotFound(err) {
			return notFound(c, "Campaign not found")
		}

		return internalError(c, err)
	}

	return c.JSON(found)
}

func (h *APIHandlers) DeleteCampaign(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Campaign ID is required")
	}

	err := h.campaignService.Delete(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) StartCampaign(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Campaign ID is required")
	}

	err := h.campaignService.Start(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"status": string(models.CampaignStatusRunning)})
}

func (h *APIHandlers) StopCampaign(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Campaign ID is required")
	}

	err := h.campaignService.Pause(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"status": string(models.CampaignStatusPaused)})
}

func (h *APIHandlers) ResumeCampaign(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Campaign ID is required")
	}

	err := h.campaignService.Resume(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"status": string(models.CampaignStatusRunning)})
}

func (h *APIHandlers) GetCampaignEvents(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Campaign ID is required")
	}

	limit := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid limit parameter")
		}

		limit = parsed
	}

	_, err := h.persistence.Campaigns().GetByID(c.Context(), id)
	if err != nil {
		if persistence.IsCampaignNotFound(err) {
			return notFound(c, "Campaign not found")
		}

		return internalError(c, err)
	}

	eventLog, err := h.persistence.EmailEvents().ListByCampaign(c.Context(), id, limit)
	if err != nil {
		return internalError(c, err)
	}

	if eventLog == nil {
		eventLog = []*models.EmailEvent{}
	}

	return c.JSON(fiber.Map{"events": eventLog})
}

func (h *APIHandlers) RebuildCampaignStats(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Campaign ID is required")
	}

	stats, err := h.campaignService.RebuildStats(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(stats)
}

// TrackOpen serves the tracking pixel. It always answers with the GIF no
// matter what happens inside; a broken image in an email client is worse than
// a lost open.
func (h *APIHandlers) TrackOpen(c fiber.Ctx) error {
	campaignID := c.Params("campaignId")

	email, err := url.QueryUnescape(c.Params("email"))
	if err != nil {
		email = c.Params("email")
	}

	if campaignID != "" && email != "" {
		err = h.campaignService.TrackOpen(c.Context(), campaignID, email)
		if err != nil {
			h.logger.ErrorContext(c.Context(), "Failed to track open",
				"campaign_id", campaignID, "recipient", email, "error", err)
		}
	}

	c.Set(fiber.HeaderContentType, "image/gif")
	c.Set(fiber.HeaderCacheControl, "no-store, no-cache, must-revalidate")

	return c.Status(http.StatusOK).Send(trackingGIF)
}

func (h *APIHandlers) TrackReply(c fiber.Ctx) error {
	var req ReplyWebhookRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.campaignService.TrackReply(c.Context(), req.CampaignID, req.RecipientEmail, req.MessageID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"acknowledged": true, "timestamp": time.Now().UTC()})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	err := h.persistence.HealthCheck(c.Context())

	status := "healthy"
	httpStatus := http.StatusOK

	if err != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}
