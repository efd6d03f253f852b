package worker

import (
	"context"
	"log"
	"time"

	"sendloop/campaign"
	"sendloop/models"

	"gorm.io/gorm"
)

// CampaignWorker is the external trigger the engine expects: on a fixed
// cadence it invokes ProcessCampaign for every campaign that might have
// work. The engine itself decides whether anything is due.
type CampaignWorker struct {
	DB       *gorm.DB
	Engine   *campaign.Engine
	Interval time.Duration
	Logger   *log.Logger
}

func NewCampaignWorker(db *gorm.DB, engine *campaign.Engine, interval time.Duration, logger *log.Logger) *CampaignWorker {
	return &CampaignWorker{
		DB:       db,
		Engine:   engine,
		Interval: interval,
		Logger:   logger,
	}
}

func (cw *CampaignWorker) Start(ctx context.Context) {
	// Initial delay to let the server start up
	time.Sleep(10 * time.Second)

	cw.Logger.Println("Campaign worker started")

	ticker := time.NewTicker(cw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cw.Logger.Println("Campaign worker shutting down...")
			return
		case <-ticker.C:
			cw.processDueCampaigns(ctx)
		}
	}
}

func (cw *CampaignWorker) processDueCampaigns(ctx context.Context) {
	var campaigns []models.Campaign
	if err := cw.DB.Where("status IN ?",
		[]string{models.CampaignStatusScheduled, models.CampaignStatusRunning}).
		Find(&campaigns).Error; err != nil {
		cw.Logger.Printf("Error fetching due campaigns: %v", err)
		return
	}

	for _, c := range campaigns {
		if err := cw.Engine.ProcessCampaign(ctx, c.ID); err != nil {
			cw.Logger.Printf("Error processing campaign %d: %v", c.ID, err)
		}
	}
}
