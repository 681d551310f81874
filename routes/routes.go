package routes

import (
	"log"
	"os"

	controller "coldpilot/controllers"
	"coldpilot/middleware"
	"coldpilot/utils"
	"coldpilot/worker"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"
)

// SetupRoutes wires the HTTP surface. The reply checker is shared with the
// background reply worker so manual refresh and the sweep agree on state.
func SetupRoutes(app *fiber.App, db *gorm.DB, assigner *utils.CampaignAssigner, completion *utils.CampaignCompletion, checker *worker.ReplyChecker) {
	campaignController := controller.NewCampaignController(db, log.New(os.Stdout, "CAMPAIGN: ", log.LstdFlags), assigner, completion)
	leadController := controller.NewLeadController(db, log.New(os.Stdout, "LEAD: ", log.LstdFlags), assigner, completion)
	accountController := controller.NewAccountController(db, log.New(os.Stdout, "ACCOUNT: ", log.LstdFlags))
	historyController := controller.NewHistoryController(db, log.New(os.Stdout, "HISTORY: ", log.LstdFlags), checker)

	api := app.Group("/api/v1", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Campaign routes
	campaign := api.Group("/campaigns")
	campaign.Post("/", campaignController.CreateCampaign)
	campaign.Get("/", campaignController.GetCampaigns)
	campaign.Get("/:id", campaignController.GetCampaign)
	campaign.Put("/:id", campaignController.UpdateCampaign)
	campaign.Delete("/:id", campaignController.DeleteCampaign)
	campaign.Post("/:id/start", campaignController.StartCampaign)
	campaign.Post("/:id/pause", campaignController.PauseCampaign)
	campaign.Post("/:id/resume", campaignController.ResumeCampaign)
	campaign.Get("/:id/stats", campaignController.GetCampaignStats)

	// Lead routes live under their campaign
	campaign.Post("/:id/leads", leadController.ImportLeads)
	campaign.Get("/:id/leads", leadController.GetLeads)
	api.Delete("/leads/:leadId", leadController.DeleteLead)

	// Account routes
	account := api.Group("/accounts")
	account.Post("/", accountController.CreateAccount)
	account.Get("/", accountController.GetAccounts)
	account.Put("/:id", accountController.UpdateAccount)
	account.Delete("/:id", accountController.DeleteAccount)

	// Send history and reply inspection
	history := api.Group("/history")
	history.Get("/", historyController.GetSentEmails)
	history.Get("/:id/replies", historyController.GetReplies)
	history.Post("/:id/refresh", middleware.RefreshRateLimiter(), historyController.RefreshReply)
}
