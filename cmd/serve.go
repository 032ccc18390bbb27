package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/gasrisk-cli/internal/model"
	"github.com/sells-group/gasrisk-cli/internal/monitoring"
	"github.com/sells-group/gasrisk-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only status API",
	Long: "Serves run history, per-source sync state, and the estimate " +
		"history over HTTP. The API is read-only; ingestion and scoring stay " +
		"in the CLI and scheduler.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newAPIRouter(st, cfg.Ingest.StalenessHours),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting status api", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newAPIRouter builds the read-only HTTP API.
func newAPIRouter(st store.Store, stalenessHours int) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
			q := req.URL.Query()
			filter := store.RunFilter{
				Status: model.RunStatus(q.Get("status")),
				Limit:  50,
			}
			runs, err := st.ListRuns(req.Context(), filter)
			if err != nil {
				writeError(w, err)
				return
			}
			if runs == nil {
				runs = []model.Run{}
			}
			writeJSON(w, http.StatusOK, runs)
		})

		r.Get("/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
			run, err := st.GetRun(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
				return
			}
			writeJSON(w, http.StatusOK, run)
		})

		r.Get("/sources", func(w http.ResponseWriter, req *http.Request) {
			snap, err := monitoring.NewCollector(st, stalenessHours).Collect(req.Context(), 24*7)
			if err != nil {
				writeError(w, err)
				return
			}
			type sourceState struct {
				SourceID    model.SourceID `json:"source_id"`
				LastSuccess *time.Time     `json:"last_success,omitempty"`
				Stale       bool           `json:"stale"`
			}
			stale := make(map[model.SourceID]monitoring.StaleSource, len(snap.StaleSources))
			for _, s := range snap.StaleSources {
				stale[s.SourceID] = s
			}
			out := make([]sourceState, 0, len(model.AllSources()))
			for _, id := range model.AllSources() {
				state := sourceState{SourceID: id}
				if s, ok := stale[id]; ok {
					state.Stale = true
					state.LastSuccess = s.LastSuccess
				} else {
					last, err := st.LastSuccess(req.Context(), id)
					if err != nil {
						writeError(w, err)
						return
					}
					state.LastSuccess = last
				}
				out = append(out, state)
			}
			writeJSON(w, http.StatusOK, out)
		})

		r.Get("/estimates", func(w http.ResponseWriter, req *http.Request) {
			ests, err := st.ListEstimates(req.Context(), 100)
			if err != nil {
				writeError(w, err)
				return
			}
			if ests == nil {
				ests = []model.RiskEstimate{}
			}
			writeJSON(w, http.StatusOK, ests)
		})

		r.Get("/estimates/latest", func(w http.ResponseWriter, req *http.Request) {
			est, err := st.LatestEstimate(req.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			if est == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "no estimates yet"})
				return
			}
			writeJSON(w, http.StatusOK, est)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	zap.L().Error("api request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
