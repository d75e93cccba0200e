package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"careplanner/internal/model"
	"careplanner/internal/reconcile"
	"careplanner/internal/remote"
	"careplanner/internal/repository"
	"careplanner/internal/service"
)

func newTestRouter(t *testing.T) (*gin.Engine, *remote.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := repository.NewDB(filepath.Join(t.TempDir(), "api.db"), nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	templates := repository.NewTemplateRepository(db, nil)
	records := repository.NewRecordRepository(db, nil, time.UTC)
	alarms := service.NewCronAlarms(service.NewSchedulerService(time.UTC), service.CapabilityUnsupported)
	docs := remote.NewMemoryStore()
	syncer := reconcile.NewReconciler("owner", docs, templates, records)

	h := NewAPIHandler(
		service.NewTemplateService(templates, service.NewReminderScheduler(alarms, time.UTC)),
		records,
		service.NewMaterializationEngine(templates, records, time.UTC),
		service.NewCompletionTracker(records),
		syncer,
	)
	router := gin.New()
	h.RegisterRoutes(router)
	return router, docs
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

func createTemplate(t *testing.T, router http.Handler, in service.TemplateInput) model.TaskTemplate {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/templates", in)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", w.Code, w.Body.String())
	}
	var tpl model.TaskTemplate
	decode(t, w, &tpl)
	return tpl
}

func TestTemplateLifecycle(t *testing.T) {
	router, _ := newTestRouter(t)

	tpl := createTemplate(t, router, service.TemplateInput{Title: "Take Metformin", Time: "8:00 am", Category: "MEDICATION"})
	if tpl.ID == 0 || tpl.Time != "8:00 AM" || tpl.TimeBlock != model.Morning {
		t.Fatalf("created=%+v", tpl)
	}

	w := doJSON(t, router, http.MethodPost, "/api/templates", service.TemplateInput{Title: "", Time: "8:00 AM"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid create status=%d", w.Code)
	}

	w = doJSON(t, router, http.MethodPut, fmt.Sprintf("/api/templates/%d", tpl.ID), service.TemplateInput{Title: "Take Metformin 500mg", Time: "9:00 AM"})
	if w.Code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/templates/%d/deactivate", tpl.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("deactivate status=%d", w.Code)
	}
	var listed struct {
		Templates []model.TaskTemplate `json:"templates"`
	}
	decode(t, doJSON(t, router, http.MethodGet, "/api/templates", nil), &listed)
	if len(listed.Templates) != 0 {
		t.Fatalf("inactive template listed: %+v", listed.Templates)
	}
	decode(t, doJSON(t, router, http.MethodGet, "/api/templates?all=true", nil), &listed)
	if len(listed.Templates) != 1 || listed.Templates[0].Title != "Take Metformin 500mg" {
		t.Fatalf("all templates=%+v", listed.Templates)
	}

	w = doJSON(t, router, http.MethodDelete, fmt.Sprintf("/api/templates/%d", tpl.ID), nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", w.Code)
	}
	w = doJSON(t, router, http.MethodDelete, fmt.Sprintf("/api/templates/%d", tpl.ID), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete status=%d", w.Code)
	}
	w = doJSON(t, router, http.MethodPut, "/api/templates/abc", service.TemplateInput{Title: "x", Time: "8:00 AM"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad id status=%d", w.Code)
	}
}

func TestDayCompletionFlow(t *testing.T) {
	router, _ := newTestRouter(t)
	a := createTemplate(t, router, service.TemplateInput{Title: "Walk", Time: "6:00 PM"})
	createTemplate(t, router, service.TemplateInput{Title: "Check blood pressure", Time: "9:00 AM"})

	var day struct {
		Date    string                  `json:"date"`
		Records []model.DailyTaskRecord `json:"records"`
	}
	decode(t, doJSON(t, router, http.MethodGet, "/api/days/2024-01-15", nil), &day)
	if len(day.Records) != 2 {
		t.Fatalf("day records=%+v", day.Records)
	}

	path := fmt.Sprintf("/api/days/2024-01-15/records/%d/complete", a.ID)
	w := doJSON(t, router, http.MethodPost, path, map[string]bool{"completed": true})
	if w.Code != http.StatusOK {
		t.Fatalf("complete status=%d body=%s", w.Code, w.Body.String())
	}
	var rec model.DailyTaskRecord
	decode(t, w, &rec)
	if !rec.IsCompleted || rec.CompletedAt == nil {
		t.Fatalf("record=%+v", rec)
	}

	var progress struct {
		Completed int `json:"completed"`
		Total     int `json:"total"`
		Percent   int `json:"percent"`
	}
	decode(t, doJSON(t, router, http.MethodGet, "/api/days/2024-01-15/progress", nil), &progress)
	if progress.Completed != 1 || progress.Total != 2 || progress.Percent != 50 {
		t.Fatalf("progress=%+v", progress)
	}

	if w := doJSON(t, router, http.MethodPost, "/api/days/2024-01-15/reset", nil); w.Code != http.StatusOK {
		t.Fatalf("reset status=%d", w.Code)
	}
	decode(t, doJSON(t, router, http.MethodGet, "/api/days/2024-01-15/progress", nil), &progress)
	if progress.Completed != 0 || progress.Total != 2 {
		t.Fatalf("progress after reset=%+v", progress)
	}

	w = doJSON(t, router, http.MethodPost, path, map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing completed flag status=%d", w.Code)
	}
	w = doJSON(t, router, http.MethodPost, "/api/days/2024-01-15/records/999/complete", map[string]bool{"completed": true})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown template status=%d", w.Code)
	}
	w = doJSON(t, router, http.MethodGet, "/api/days/15-01-2024", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad date status=%d", w.Code)
	}
}

func TestHistoryAndSync(t *testing.T) {
	router, docs := newTestRouter(t)
	tpl := createTemplate(t, router, service.TemplateInput{Title: "Walk", Time: "6:00 PM"})
	today := model.FormatDate(time.Now().UTC())

	path := fmt.Sprintf("/api/days/%s/records/%d/complete", today, tpl.ID)
	if w := doJSON(t, router, http.MethodPost, path, map[string]bool{"completed": true}); w.Code != http.StatusOK {
		t.Fatalf("complete status=%d", w.Code)
	}

	var history struct {
		Records []model.DailyTaskRecord `json:"records"`
	}
	decode(t, doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/templates/%d/history?from=2000-01-01", tpl.ID), nil), &history)
	if len(history.Records) != 1 || history.Records[0].Date != today {
		t.Fatalf("history=%+v", history.Records)
	}

	for _, query := range []string{"from=2024-1-5", "from=yesterday", "to=2024/01/31"} {
		w := doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/templates/%d/history?%s", tpl.ID, query), nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("history?%s status=%d, want 400", query, w.Code)
		}
	}

	w := doJSON(t, router, http.MethodPost, "/api/sync", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sync status=%d body=%s", w.Code, w.Body.String())
	}
	var out struct {
		Report reconcile.Report `json:"report"`
	}
	decode(t, w, &out)
	if out.Report.TemplatesPushed != 1 || out.Report.RecordsPushed != 1 {
		t.Fatalf("report=%+v", out.Report)
	}
	if docs.Len("owner", remote.CollectionRecords) != 1 {
		t.Fatalf("record not mirrored")
	}
}
