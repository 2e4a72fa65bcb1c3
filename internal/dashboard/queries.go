package dashboard

import (
	"errors"
	"fmt"

	"github.com/zulandar/missionctl/internal/models"
	"gorm.io/gorm"
)

var errLoopNotFound = errors.New("loop not found")

// loopFilters narrows the loop listing.
type loopFilters struct {
	// Stage filters on current_stage; "open" is shorthand for every
	// non-terminal stage.
	Stage string
	// Agent matches either side of the loop.
	Agent string
	Limit int
}

// listLoops returns loops newest first, filtered by stage and agent.
func listLoops(db *gorm.DB, f loopFilters) ([]models.Loop, error) {
	q := db.Model(&models.Loop{})

	switch f.Stage {
	case "":
	case "open":
		q = q.Where("current_stage IN ?", []models.LoopStage{
			models.StageAwaitingReply,
			models.StageAwaitingAction,
			models.StageAwaitingReport,
		})
	default:
		stage := models.LoopStage(f.Stage)
		if !stage.Valid() {
			return nil, fmt.Errorf("dashboard: unknown stage %q", f.Stage)
		}
		q = q.Where("current_stage = ?", stage)
	}

	if f.Agent != "" {
		q = q.Where("from_agent = ? OR to_agent = ?", f.Agent, f.Agent)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	var loops []models.Loop
	if err := q.Order("started_at DESC, id DESC").Limit(limit).Find(&loops).Error; err != nil {
		return nil, fmt.Errorf("dashboard: list loops: %w", err)
	}
	return loops, nil
}

// loopView is the detail payload: the loop plus its origin message and any
// alerts raised against it.
type loopView struct {
	Loop    models.Loop     `json:"loop"`
	Origin  *models.Message `json:"origin,omitempty"`
	Alerts  []models.Alert  `json:"alerts"`
	Overdue bool            `json:"overdue"`
}

// loopDetail loads one loop with its origin message and alert history.
func loopDetail(db *gorm.DB, id uint) (*loopView, error) {
	var l models.Loop
	if err := db.First(&l, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errLoopNotFound
		}
		return nil, fmt.Errorf("dashboard: loop %d: %w", id, err)
	}

	view := loopView{Loop: l, Overdue: l.CurrentStage == models.StageBroken}

	if l.OriginMessageID != 0 {
		var msg models.Message
		if err := db.First(&msg, l.OriginMessageID).Error; err == nil {
			view.Origin = &msg
		}
	}

	if err := db.Where("loop_id = ?", id).Order("id ASC").Find(&view.Alerts).Error; err != nil {
		return nil, fmt.Errorf("dashboard: loop %d alerts: %w", id, err)
	}

	return &view, nil
}
