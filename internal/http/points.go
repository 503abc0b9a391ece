package http

import (
	"github.com/gin-gonic/gin"

	"github.com/storytrim/server/internal/http/respond"
	"github.com/storytrim/server/internal/services"
)

type PointsController struct {
	points *services.PointsService
}

func NewPointsController(points *services.PointsService) *PointsController {
	return &PointsController{points: points}
}

func (pc *PointsController) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/balance", pc.Balance)
	group.GET("/ledger", pc.Ledger)
}

// RegisterUserRoutes mounts the same handlers under /users/me.
func (pc *PointsController) RegisterUserRoutes(group *gin.RouterGroup) {
	group.GET("/points", pc.Balance)
	group.GET("/points/ledger", pc.Ledger)
}

func (pc *PointsController) Balance(c *gin.Context) {
	balance, err := pc.points.GetBalance(GetUserID(c))
	if err != nil {
		respond.Fail(c, err)
		return
	}
	respond.OK(c, gin.H{"balance": balance})
}

// Ledger handles GET /points/ledger?page&size.
func (pc *PointsController) Ledger(c *gin.Context) {
	page := queryInt(c, "page", 1)
	size := queryInt(c, "size", 0)
	entries, err := pc.points.ListLedger(GetUserID(c), page, size)
	if err != nil {
		respond.Fail(c, err)
		return
	}
	respond.OK(c, gin.H{"page": max(page, 1), "items": entries})
}
