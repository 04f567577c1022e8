package app

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"trades-core/internal/executor"
	"trades-core/internal/monitor"
)

// startMonitorServer 暴露只读状态接口，随 ctx 结束优雅退出。
func startMonitorServer(ctx context.Context, addr string, orch *executor.Orchestrator, svc *monitor.Service, logger *zap.Logger) error {
	writeJSON := func(w http.ResponseWriter, payload interface{}) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			logger.Warn("写入监控响应失败", zap.Error(err))
		}
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		report := orch.ExecutorsReport()

		type controllerStatus struct {
			Active    int      `json:"active"`
			Executors []string `json:"executors"`
		}
		controllers := make(map[string]controllerStatus, len(report))
		for id, infos := range report {
			status := controllerStatus{}
			for _, info := range infos {
				if info.Status.IsActive() {
					status.Active++
				}
				status.Executors = append(status.Executors, info.Summary())
			}
			controllers[id] = status
		}

		writeJSON(w, struct {
			Timestamp   time.Time                   `json:"timestamp"`
			Controllers map[string]controllerStatus `json:"controllers"`
		}{
			Timestamp:   time.Now().UTC(),
			Controllers: controllers,
		})
	})

	mux.HandleFunc("/executors", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, orch.ExecutorsReport())
	})

	mux.HandleFunc("/performance", func(w http.ResponseWriter, r *http.Request) {
		var (
			report executor.PerformanceReport
			err    error
		)
		if id := strings.TrimSpace(r.URL.Query().Get("controller")); id != "" {
			report, err = orch.GeneratePerformanceReport(r.Context(), id)
		} else {
			report, err = orch.GlobalPerformanceReport(r.Context())
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, report)
	})

	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := 200
		if qs := q.Get("limit"); qs != "" {
			if v, err := strconv.Atoi(qs); err == nil && v > 0 {
				if v > 1000 {
					v = 1000
				}
				limit = v
			}
		}

		eventType := monitor.EventType("")
		if typ := strings.TrimSpace(q.Get("type")); typ != "" {
			eventType = monitor.EventType(strings.ToLower(typ))
		}

		events, err := svc.ListEvents(r.Context(), eventType, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, events)
	})

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("关闭监控服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("监控服务异常", zap.Error(err))
		}
	}()

	logger.Info("监控接口已启动", zap.String("addr", addr))
	return nil
}
