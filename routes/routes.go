package routes

import (
	"log"
	"os"

	"sendloop/campaign"
	controller "sendloop/controllers"
	"sendloop/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"
)

func SetupRoutes(app *fiber.App, db *gorm.DB, engine *campaign.Engine) {
	campaignLogger := log.New(os.Stdout, "CAMPAIGN: ", log.Ldate|log.Ltime|log.Lshortfile)

	campaignController := controller.NewCampaignController(db, engine, campaignLogger)

	campaigns := app.Group("/campaigns", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}), middleware.APIKey())

	campaigns.Get("/:id", campaignController.GetCampaign)
	campaigns.Post("/:id/launch", middleware.ProcessRateLimiter(), campaignController.LaunchCampaign)
	campaigns.Post("/:id/process", middleware.ProcessRateLimiter(), campaignController.ProcessCampaign)
	campaigns.Post("/:id/pause", campaignController.PauseCampaign)
	campaigns.Post("/:id/resume", campaignController.ResumeCampaign)

	campaignLogger.Println("Campaign routes initialized successfully")
}
