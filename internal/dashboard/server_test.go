package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/missionctl/internal/db"
	"github.com/zulandar/missionctl/internal/models"
	"gorm.io/gorm"
)

var t0 = time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

func testRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	gin.SetMode(gin.TestMode)
	router := gin.New()
	registerRoutes(router, gdb, time.UTC)
	return router, gdb
}

func get(t *testing.T, router *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func seedLoop(t *testing.T, gdb *gorm.DB, toAgent string, stage models.LoopStage) models.Loop {
	t.Helper()
	l := models.Loop{
		FromAgent:    "sam",
		ToAgent:      toAgent,
		Priority:     models.PriorityNormal,
		CurrentStage: stage,
		StartedAt:    t0,
	}
	if err := gdb.Create(&l).Error; err != nil {
		t.Fatalf("create loop: %v", err)
	}
	return l
}

func TestStart_NilDB(t *testing.T) {
	err := Start(context.Background(), StartOpts{DB: nil})
	if err == nil {
		t.Fatal("expected error for nil db")
	}
	if !strings.Contains(err.Error(), "db is required") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "db is required")
	}
}

func TestHealthz(t *testing.T) {
	router, _ := testRouter(t)
	w := get(t, router, "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "ok") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestSummary(t *testing.T) {
	router, gdb := testRouter(t)
	seedLoop(t, gdb, "leo", models.StageAwaitingReply)

	w := get(t, router, "/api/summary")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["totalActive"] != float64(1) {
		t.Errorf("totalActive = %v, want 1", body["totalActive"])
	}
	// No completions: average must be null, not zero.
	if v, ok := body["avgCompletionTimeMs"]; !ok || v != nil {
		t.Errorf("avgCompletionTimeMs = %v, want null", v)
	}
}

func TestAgents(t *testing.T) {
	router, gdb := testRouter(t)
	seedLoop(t, gdb, "leo", models.StageAwaitingReply)
	seedLoop(t, gdb, "leo", models.StageAwaitingReply)
	seedLoop(t, gdb, "ada", models.StageAwaitingReply)

	w := get(t, router, "/api/agents?days=7")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body struct {
		Agents []struct {
			Agent string `json:"agentName"`
			Total int    `json:"total"`
		} `json:"agents"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Agents) != 2 {
		t.Fatalf("agents = %d, want 2", len(body.Agents))
	}
	if body.Agents[0].Agent != "leo" || body.Agents[0].Total != 2 {
		t.Errorf("first agent = %+v, want leo with 2 loops", body.Agents[0])
	}
}

func TestAlerts(t *testing.T) {
	router, gdb := testRouter(t)
	l := seedLoop(t, gdb, "leo", models.StageBroken)
	gdb.Create(&models.Alert{
		LoopID: l.ID, Type: models.AlertReplyOverdue,
		Severity: models.SeverityWarning, SentAt: t0,
		FromAgent: "sam", ToAgent: "leo",
	})
	gdb.Create(&models.Alert{
		LoopID: l.ID, Type: models.AlertLoopBroken,
		Severity: models.SeverityWarning, SentAt: t0,
		FromAgent: "sam", ToAgent: "leo", Resolved: true,
	})

	w := get(t, router, "/api/alerts")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Alerts []models.Alert `json:"alerts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Alerts) != 1 {
		t.Fatalf("alerts = %d, want 1 (resolved excluded)", len(body.Alerts))
	}
	if body.Alerts[0].Type != models.AlertReplyOverdue {
		t.Errorf("type = %s", body.Alerts[0].Type)
	}
}

func TestLoops_StageFilter(t *testing.T) {
	router, gdb := testRouter(t)
	seedLoop(t, gdb, "leo", models.StageAwaitingReply)
	seedLoop(t, gdb, "leo", models.StageBroken)
	seedLoop(t, gdb, "ada", models.StageCompleted)

	w := get(t, router, "/api/loops?stage=open")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Loops []models.Loop `json:"loops"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Loops) != 1 {
		t.Errorf("open loops = %d, want 1", len(body.Loops))
	}

	w = get(t, router, "/api/loops?stage=bogus")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("bogus stage status = %d, want 500", w.Code)
	}
}

func TestLoops_AgentFilter(t *testing.T) {
	router, gdb := testRouter(t)
	seedLoop(t, gdb, "leo", models.StageAwaitingReply)
	seedLoop(t, gdb, "ada", models.StageAwaitingReply)

	w := get(t, router, "/api/loops?agent=ada")
	var body struct {
		Loops []models.Loop `json:"loops"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Loops) != 1 || body.Loops[0].ToAgent != "ada" {
		t.Errorf("loops = %+v, want one loop to ada", body.Loops)
	}
}

func TestLoopDetail(t *testing.T) {
	router, gdb := testRouter(t)
	msg := models.Message{FromAgent: "sam", ToAgent: "leo", Content: "deploy it", Priority: models.PriorityNormal, Status: models.MessagePending, SentAt: t0}
	if err := gdb.Create(&msg).Error; err != nil {
		t.Fatalf("create message: %v", err)
	}
	l := models.Loop{
		FromAgent: "sam", ToAgent: "leo", Priority: models.PriorityNormal,
		CurrentStage: models.StageAwaitingReply, StartedAt: t0,
		OriginMessageID: msg.ID,
	}
	if err := gdb.Create(&l).Error; err != nil {
		t.Fatalf("create loop: %v", err)
	}

	w := get(t, router, "/api/loops/1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var body loopView
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Origin == nil || body.Origin.Content != "deploy it" {
		t.Errorf("origin = %+v, want the origin message", body.Origin)
	}
}

func TestLoopDetail_NotFound(t *testing.T) {
	router, _ := testRouter(t)
	w := get(t, router, "/api/loops/999")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestLoopDetail_BadID(t *testing.T) {
	router, _ := testRouter(t)
	w := get(t, router, "/api/loops/abc")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
