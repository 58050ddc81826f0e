package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"ftx-arb-bot/internal/strategy"
)

func newHandlerApp(t *testing.T) *App {
	t.Helper()
	engine := strategy.NewEngine(context.Background(), nil, nil, nil, nil, nil, nil, nil, nil, zap.NewNop())
	return &App{engine: engine, log: zap.NewNop()}
}

func TestConfigHandlerGetReturnsDefaults(t *testing.T) {
	app := newHandlerApp(t)
	rec := httptest.NewRecorder()
	app.configHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/config", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var view configView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if view.Version != 0 {
		t.Fatalf("fresh engine must report version 0, got %d", view.Version)
	}
	if view.Config.Alarm.GTLeverage != strategy.DefaultConfig().Alarm.GTLeverage {
		t.Fatalf("expected default alarm ceiling, got %v", view.Config.Alarm.GTLeverage)
	}
}

func TestConfigHandlerPostAppliesPatch(t *testing.T) {
	app := newHandlerApp(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/config", strings.NewReader(`{"alarm":{"gt_leverage":25}}`))
	app.configHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var view configView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if view.Config.Alarm.GTLeverage != 25 || view.Version != 1 {
		t.Fatalf("patch not applied, got ceiling %v version %d", view.Config.Alarm.GTLeverage, view.Version)
	}
	if got := app.engine.GetConfig().Alarm.GTLeverage; got != 25 {
		t.Fatalf("engine must carry the update, got %v", got)
	}
}

func TestConfigHandlerPostRejectsInvalidPatch(t *testing.T) {
	app := newHandlerApp(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/config", strings.NewReader(`{"increase_pair":{"lt_leverage":99}}`))
	app.configHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if app.engine.ConfigVersion() != 0 {
		t.Fatalf("rejected patch must not bump version")
	}
}

func TestConfigHandlerRejectsOtherMethods(t *testing.T) {
	app := newHandlerApp(t)
	rec := httptest.NewRecorder()
	app.configHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/config", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
