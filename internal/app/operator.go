package app

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"ftx-arb-bot/internal/strategy"
)

const maxConfigBody = 1 << 20

type configView struct {
	Version int             `json:"version"`
	Config  strategy.Config `json:"config"`
}

// configHandler exposes the live strategy config on the metrics listener.
// GET returns the current config and its version; POST applies a partial
// update, persists it, and returns the merged result.
func (a *App) configHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, configView{
				Version: a.engine.ConfigVersion(),
				Config:  a.engine.GetConfig(),
			})
		case http.MethodPost:
			body, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBody))
			if err != nil {
				http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
				return
			}
			updated, err := a.engine.UpdateConfig(r.Context(), body)
			if err != nil {
				status := http.StatusInternalServerError
				if errors.Is(err, strategy.ErrInvalidConfig) {
					status = http.StatusBadRequest
				}
				http.Error(w, err.Error(), status)
				return
			}
			a.log.Info("strategy config updated", zap.Int("version", a.engine.ConfigVersion()))
			writeJSON(w, http.StatusOK, configView{
				Version: a.engine.ConfigVersion(),
				Config:  updated,
			})
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
