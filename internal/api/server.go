// Package api exposes the plugin runtime over REST for operator tooling.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"orchestrall/internal/activation"
	"orchestrall/internal/bundle"
	"orchestrall/internal/catalog"
	xerrors "orchestrall/internal/errors"
	"orchestrall/internal/manifest"
	"orchestrall/internal/observability/metrics"
	"orchestrall/internal/runtime"
)

// Server wires the runtime components behind the HTTP API.
type Server struct {
	addr       string
	catalog    *catalog.Catalog
	manager    *runtime.Manager
	store      activation.Store
	reconciler *bundle.Reconciler
	health     *runtime.HealthScheduler
}

// NewServer constructs the API server.
func NewServer(addr string, cat *catalog.Catalog, manager *runtime.Manager, store activation.Store, reconciler *bundle.Reconciler, health *runtime.HealthScheduler) *Server {
	return &Server{
		addr:       addr,
		catalog:    cat,
		manager:    manager,
		store:      store,
		reconciler: reconciler,
		health:     health,
	}
}

// Start serves until the context is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/plugins", s.handleListPlugins)
	mux.HandleFunc("GET /api/v1/tenants/{tenant}/activations", s.handleListActivations)
	mux.HandleFunc("POST /api/v1/tenants/{tenant}/plugins/{category}/{name}/install", s.handleInstall)
	mux.HandleFunc("POST /api/v1/tenants/{tenant}/plugins/{category}/{name}/enable", s.handleEnable)
	mux.HandleFunc("POST /api/v1/tenants/{tenant}/plugins/{category}/{name}/disable", s.handleDisable)
	mux.HandleFunc("DELETE /api/v1/tenants/{tenant}/plugins/{category}/{name}", s.handleUninstall)
	mux.HandleFunc("PATCH /api/v1/tenants/{tenant}/plugins/{category}/{name}/config", s.handleUpdateConfig)
	mux.HandleFunc("POST /api/v1/tenants/{tenant}/bundles", s.handleApplyBundle)
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

func pluginID(r *http.Request) string {
	return r.PathValue("category") + "/" + r.PathValue("name")
}

func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.List())
}

func (s *Server) handleListActivations(w http.ResponseWriter, r *http.Request) {
	acts, err := s.store.ListByTenant(r.Context(), r.PathValue("tenant"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acts)
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Config map[string]any `json:"config"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	act, err := s.manager.Install(r.Context(), r.PathValue("tenant"), pluginID(r), req.Config)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, act)
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	act, err := s.manager.Enable(r.Context(), r.PathValue("tenant"), pluginID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, act)
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	act, err := s.manager.Disable(r.Context(), r.PathValue("tenant"), pluginID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, act)
}

func (s *Server) handleUninstall(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Uninstall(r.Context(), r.PathValue("tenant"), pluginID(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Config  map[string]any `json:"config"`
		Restart bool           `json:"restart"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	act, err := s.manager.UpdateConfig(r.Context(), r.PathValue("tenant"), pluginID(r), req.Config, req.Restart)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, act)
}

func (s *Server) handleApplyBundle(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	def, err := bundle.Decode(raw)
	if err != nil {
		writeError(w, err)
		return
	}

	opts := bundle.ReconcileOptions{
		Prune:  r.URL.Query().Get("prune") == "true",
		DryRun: r.URL.Query().Get("dryRun") == "true",
	}
	plan, results, err := s.reconciler.Reconcile(r.Context(), r.PathValue("tenant"), def, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Plan    *bundle.Plan    `json:"plan"`
		Results []bundle.Result `json:"results,omitempty"`
	}{Plan: plan, Results: results})
}

type healthEntry struct {
	TenantID string               `json:"tenantId"`
	PluginID string               `json:"pluginId"`
	Result   runtime.HealthResult `json:"result"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snapshot := s.health.Snapshot()
	entries := make([]healthEntry, 0, len(snapshot))
	for pair, result := range snapshot {
		entries = append(entries, healthEntry{TenantID: pair.TenantID, PluginID: pair.PluginID, Result: result})
	}
	writeJSON(w, http.StatusOK, entries)
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode request body")
	}
	return nil
}

func readBody(r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "read request body")
	}
	return raw, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{Code: string(xerrors.CodeOf(err)), Message: err.Error()})
}

func statusFor(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeNotFound, activation.CodeActivationNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, activation.CodeActivationConflict:
		return http.StatusConflict
	case xerrors.CodeInvalidArgument, xerrors.CodeValidation,
		manifest.CodeManifestInvalid, runtime.CodeConfigInvalid, bundle.CodeBundleInvalid:
		return http.StatusBadRequest
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
