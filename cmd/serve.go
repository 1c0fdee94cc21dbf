package main

import (
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

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the contact status API",
	Long:  "Serves contact records and retry tickets over HTTP, and accepts delivery-outcome reports from the send collaborator.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newRouter builds the status API routes.
func newRouter(env *appEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/contacts/{email}", func(w http.ResponseWriter, r *http.Request) {
		email := model.NormalizeEmail(chi.URLParam(r, "email"))
		contact, err := env.Store.GetContact(r.Context(), email)
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "contact not found"})
				return
			}
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
			return
		}
		writeJSON(w, http.StatusOK, contact)
	})

	r.Get("/tickets/{organization}", func(w http.ResponseWriter, r *http.Request) {
		ticket, err := env.Store.GetTicket(r.Context(), chi.URLParam(r, "organization"))
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "no ticket"})
				return
			}
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	})

	// The send collaborator reports outcomes here so retries get scheduled.
	r.Post("/outcomes", func(w http.ResponseWriter, r *http.Request) {
		var attempt model.DeliveryAttempt
		if err := json.NewDecoder(r.Body).Decode(&attempt); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if attempt.Email == "" || attempt.Organization == "" || attempt.Outcome == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email, organization, and outcome are required"})
			return
		}
		if attempt.SentAt.IsZero() {
			attempt.SentAt = time.Now().UTC()
		}

		if err := env.Store.AppendAttempt(r.Context(), attempt); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "record attempt failed"})
			return
		}
		if err := env.Coordinator.HandleOutcome(r.Context(), attempt); err != nil {
			zap.L().Error("outcome handling failed",
				zap.String("organization", attempt.Organization),
				zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "outcome handling failed"})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
