package controller

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"sendloop/campaign"
	"sendloop/models"
	"sendloop/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type CampaignController struct {
	DB        *gorm.DB
	Engine    *campaign.Engine
	Scheduler *campaign.RecipientScheduler
	Logger    *log.Logger
}

func NewCampaignController(db *gorm.DB, engine *campaign.Engine, logger *log.Logger) *CampaignController {
	return &CampaignController{
		DB:        db,
		Engine:    engine,
		Scheduler: campaign.NewRecipientScheduler(db),
		Logger:    logger,
	}
}

type LaunchCampaignRequest struct {
	ScheduledAt *string                 `json:"scheduled_at"` // RFC3339; empty means now
	Assignments []campaign.Assignment   `json:"assignments" validate:"required,min=1,dive"`
	Schedule    campaign.ScheduleConfig `json:"schedule" validate:"required"`
}

// LaunchCampaign assigns recipients to accounts, precomputes their first
// send times and flips the campaign to scheduled. The worker picks it up
// from there.
func (cc *CampaignController) LaunchCampaign(c *fiber.Ctx) error {
	campaignID, err := parseID(c)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid campaign id", err)
	}

	var target models.Campaign
	if err := cc.DB.First(&target, campaignID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	if target.Status != models.CampaignStatusDraft {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Only draft campaigns can be launched",
		})
	}

	var req LaunchCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if err := utils.ValidateStruct(&req.Schedule); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	scheduledAt := time.Now()
	if req.ScheduledAt != nil && *req.ScheduledAt != "" {
		parsed, err := time.Parse(time.RFC3339, *req.ScheduledAt)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid scheduled_at", err)
		}
		scheduledAt = parsed
	}

	recipients, err := cc.Scheduler.AssignAndSchedule(target.ID, req.Assignments, req.Schedule)
	if err != nil {
		cc.Logger.Printf("Failed to schedule recipients for campaign %d: %v", target.ID, err)
		return utils.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Failed to schedule recipients", err)
	}

	updates := map[string]interface{}{
		"status":           models.CampaignStatusScheduled,
		"scheduled_at":     scheduledAt,
		"messages_per_day": req.Schedule.MessagesPerDay,
		"send_start_time":  req.Schedule.SendStartTime,
		"send_end_time":    req.Schedule.SendEndTime,
		"timezone":         req.Schedule.Timezone,
	}
	if err := cc.DB.Model(&target).Updates(updates).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update campaign", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"campaign_id":          target.ID,
		"recipients_scheduled": len(recipients),
		"scheduled_at":         scheduledAt,
	}))
}

// ProcessCampaign runs one engine cycle for the campaign. External
// schedulers call this on whatever cadence they control; a cycle with
// nothing due is a clean no-op.
func (cc *CampaignController) ProcessCampaign(c *fiber.Ctx) error {
	campaignID, err := parseID(c)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid campaign id", err)
	}

	if err := cc.Engine.ProcessCampaign(context.Background(), campaignID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Campaign not found",
			})
		}
		cc.Logger.Printf("Failed to process campaign %d: %v", campaignID, err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to process campaign", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"campaign_id": campaignID,
	}))
}

// PauseCampaign stops further cycles. An in-flight invocation runs to
// completion; the new status takes effect next cycle.
func (cc *CampaignController) PauseCampaign(c *fiber.Ctx) error {
	return cc.flipStatus(c,
		[]string{models.CampaignStatusScheduled, models.CampaignStatusRunning},
		models.CampaignStatusPaused, "Campaign is not active")
}

// ResumeCampaign returns a paused campaign to the running pool.
func (cc *CampaignController) ResumeCampaign(c *fiber.Ctx) error {
	return cc.flipStatus(c,
		[]string{models.CampaignStatusPaused},
		models.CampaignStatusRunning, "Campaign is not paused")
}

func (cc *CampaignController) flipStatus(c *fiber.Ctx, from []string, to, conflictMsg string) error {
	campaignID, err := parseID(c)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid campaign id", err)
	}

	var target models.Campaign
	if err := cc.DB.First(&target, campaignID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	allowed := false
	for _, s := range from {
		if target.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": conflictMsg,
		})
	}

	if err := cc.DB.Model(&target).Update("status", to).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update campaign", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"campaign_id": target.ID,
		"status":      to,
	}))
}

// GetCampaign returns the campaign with its per-status recipient breakdown.
func (cc *CampaignController) GetCampaign(c *fiber.Ctx) error {
	campaignID, err := parseID(c)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid campaign id", err)
	}

	var target models.Campaign
	if err := cc.DB.Preload("Steps.Variants").First(&target, campaignID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	type statusCount struct {
		Status string
		Count  int
	}
	var rows []statusCount
	if err := cc.DB.Model(&models.CampaignRecipient{}).
		Select("status, count(*) as count").
		Where("campaign_id = ?", target.ID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load recipient stats", err)
	}

	stats := fiber.Map{
		models.RecipientStatusPending:    0,
		models.RecipientStatusInProgress: 0,
		models.RecipientStatusCompleted:  0,
		models.RecipientStatusReplied:    0,
		models.RecipientStatusFailed:     0,
	}
	total := 0
	for _, row := range rows {
		stats[row.Status] = row.Count
		total += row.Count
	}
	stats["total"] = total

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"campaign":   target,
		"recipients": stats,
	}))
}

func parseID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
