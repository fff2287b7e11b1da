package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/sqlgpt/sqlgpt/internal/config"
	"github.com/sqlgpt/sqlgpt/internal/intent"
	"github.com/sqlgpt/sqlgpt/internal/pipeline"
)

type processRequest struct {
	Prompt string `json:"prompt"`
}

type refineRequest struct {
	Intent   intent.Intent `json:"intent"`
	Feedback string        `json:"feedback"`
}

func (s *server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "PROMPT_REQUIRED", "No prompt provided", nil)
		return
	}
	if !s.requireModel(w, r) {
		return
	}
	if s.deps.Pipeline == nil {
		notConfigured(r.Context(), w, "prompt pipeline")
		return
	}

	out := s.deps.Pipeline.Process(r.Context(), req.Prompt)
	if out.Failed() {
		s.logger.WarnContext(r.Context(), "prompt processing failed",
			slog.String("stage", string(out.Stage)),
			slog.Any("error", out.Err),
		)
		switch out.Stage {
		case pipeline.StageInput:
			writeError(r.Context(), w, http.StatusBadRequest, "PROMPT_REQUIRED", "No prompt provided", nil)
		case pipeline.StageIntent:
			writeError(r.Context(), w, http.StatusBadGateway, "INTENT_FAILED", "NLP processing error: "+out.Err.Error(), nil)
		case pipeline.StageSQL:
			writeError(r.Context(), w, http.StatusBadGateway, "SQL_GENERATION_FAILED", "SQL generation error: "+out.Err.Error(),
				map[string]any{"intent": out.Intent})
		default:
			writeError(r.Context(), w, http.StatusBadGateway, "PROCESSING_FAILED", out.Err.Error(), nil)
		}
		return
	}

	response := map[string]any{
		"success":           true,
		"intent":            out.Intent,
		"sql":               out.SQL,
		"validation":        out.Validation,
		"deployment_script": out.Deployment.Text,
	}
	if out.Deployment.ArchiveKey != "" {
		response["archive_key"] = out.Deployment.ArchiveKey
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *server) handleRefine(w http.ResponseWriter, r *http.Request) {
	var req refineRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Feedback) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "FEEDBACK_REQUIRED", "No feedback provided", nil)
		return
	}
	if !s.requireModel(w, r) {
		return
	}
	if s.deps.Refiner == nil {
		notConfigured(r.Context(), w, "intent refinement")
		return
	}

	refined, err := s.deps.Refiner.Refine(r.Context(), req.Intent, req.Feedback)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "REFINE_FAILED", "Refinement error: "+err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "intent": refined})
}

// requireModel answers 503 when the selected provider has no API key.
func (s *server) requireModel(w http.ResponseWriter, r *http.Request) bool {
	if err := s.cfg.RequireAPIKey(); err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "LLM_NOT_CONFIGURED", MissingKeyMessage(s.cfg.AI.Provider), nil)
		return false
	}
	return true
}

// MissingKeyMessage tells the user which environment variable to set for
// provider.
func MissingKeyMessage(provider string) string {
	if provider == config.ProviderAnthropic {
		return "Anthropic API key not configured. Please set the ANTHROPIC_API_KEY environment variable."
	}
	return "OpenAI API key not configured. Please set the OPENAI_API_KEY environment variable."
}
