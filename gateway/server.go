// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package gateway exposes the governance pipeline over HTTP.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"axonflow/governance/authority"
	"axonflow/governance/pipeline"
	"axonflow/governance/proof"
	"axonflow/governance/shared/logger"
)

// GovernRequest is the /v1/govern request body.
type GovernRequest struct {
	Tool                  string                 `json:"tool"`
	EnterpriseID          string                 `json:"enterprise_id"`
	WorkspaceID           string                 `json:"workspace_id,omitempty"`
	Scope                 string                 `json:"scope,omitempty"`
	Payload               map[string]interface{} `json:"payload,omitempty"`
	Prompt                string                 `json:"prompt,omitempty"`
	Provider              string                 `json:"provider,omitempty"`
	Model                 string                 `json:"model,omitempty"`
	EstimatedInputTokens  int                    `json:"estimated_input_tokens,omitempty"`
	EstimatedOutputTokens int                    `json:"estimated_output_tokens,omitempty"`
}

// GovernResponse is the /v1/govern response body.
type GovernResponse struct {
	RequestID string               `json:"request_id"`
	Decision  string               `json:"decision"`
	Blocked   bool                 `json:"blocked"`
	Reasons   []string             `json:"reasons,omitempty"`
	Category  string               `json:"category,omitempty"`
	Violation *authority.Violation `json:"violation,omitempty"`
	Bundle    *proof.Bundle        `json:"proof_bundle"`
}

// Server is the HTTP surface over a governance pipeline.
type Server struct {
	pipeline  *pipeline.Pipeline
	jwtSecret []byte
	log       *logger.Logger
	srv       *http.Server
}

// NewServer creates a gateway server.
func NewServer(p *pipeline.Pipeline, jwtSecret []byte, log *logger.Logger) *Server {
	return &Server{pipeline: p, jwtSecret: jwtSecret, log: log}
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.healthHandler).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/v1/govern", s.governHandler).Methods("POST")
	router.HandleFunc("/v1/verify", s.verifyHandler).Methods("POST")

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(router)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.log.Info("", "", "Governance gateway listening", map[string]interface{}{"addr": addr})
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) governHandler(w http.ResponseWriter, r *http.Request) {
	principal, err := s.principalFromRequest(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req GovernRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Tool == "" {
		s.writeError(w, http.StatusBadRequest, "tool is required")
		return
	}

	scope := authority.ScopeEnterprise
	if req.Scope != "" {
		parsed, err := authority.ParseScope(req.Scope)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		scope = parsed
	}

	out, err := s.pipeline.Govern(r.Context(), pipeline.Request{
		Principal: principal,
		Action: authority.Action{
			ToolName:           req.Tool,
			TargetEnterpriseID: req.EnterpriseID,
			TargetWorkspaceID:  req.WorkspaceID,
			Scope:              scope,
		},
		Payload:               req.Payload,
		Prompt:                req.Prompt,
		Provider:              req.Provider,
		Model:                 req.Model,
		EstimatedInputTokens:  req.EstimatedInputTokens,
		EstimatedOutputTokens: req.EstimatedOutputTokens,
	})
	if err != nil {
		s.log.ErrorWithErr(req.EnterpriseID, "", "Governance request failed", err, nil)
		s.writeError(w, http.StatusInternalServerError, "governance request failed")
		return
	}

	resp := GovernResponse{
		RequestID: out.RequestID,
		Decision:  out.Decision.String(),
		Blocked:   out.Decision.String() == "block",
		Reasons:   out.Reasons,
		Category:  out.Category,
		Violation: out.Violation,
		Bundle:    out.Bundle,
	}

	status := http.StatusOK
	if resp.Blocked {
		status = http.StatusForbidden
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) verifyHandler(w http.ResponseWriter, r *http.Request) {
	var bundle proof.Bundle
	if err := json.NewDecoder(r.Body).Decode(&bundle); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid bundle")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"bundle_id": bundle.BundleID,
		"valid":     s.pipeline.VerifyBundle(&bundle),
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "governance-gateway",
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.ErrorWithErr("", "", "Failed to encode response", err, nil)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
