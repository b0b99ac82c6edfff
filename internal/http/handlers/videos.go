package handlers

import (
	"errors"
	"net/http"

	"weltverbinder/internal/domain"
	"weltverbinder/internal/generation"
)

type videoGenerateRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

type pollRequest struct {
	PollURL string `json:"pollUrl"`
}

// GenerateVideo checks, enhances and submits a prompt.
func (a *App) GenerateVideo(w http.ResponseWriter, r *http.Request) {
	var req videoGenerateRequest
	if err := decode(w, r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}
	res, err := a.Generator.Generate(r.Context(), domain.GenerationRequest{
		Prompt: req.Prompt,
		Model:  domain.VideoModel(req.Model),
	})
	if err != nil {
		a.generationError(w, err)
		return
	}
	a.json(w, http.StatusOK, res)
}

func (a *App) generationError(w http.ResponseWriter, err error) {
	var (
		cfgErr   *domain.ConfigError
		unsafe   *domain.UnsafeContentError
		stageErr *generation.StageError
	)
	switch {
	case errors.Is(err, domain.ErrInvalidPrompt):
		a.error(w, http.StatusBadRequest, "Prompt too short", "")
	case errors.As(err, &unsafe):
		a.json(w, http.StatusBadRequest, errorBody{Error: "unsafe", Message: unsafe.Message})
	case errors.As(err, &cfgErr):
		a.error(w, http.StatusInternalServerError, "Server config error", cfgErr.Error())
	case errors.As(err, &stageErr):
		a.logger().Warn().Err(err).Str("stage", string(stageErr.Stage)).Msg("generation failed")
		a.error(w, http.StatusInternalServerError, stageErr.Tag(), stageErr.Details())
	default:
		a.logger().Error().Err(err).Msg("generation failed")
		a.error(w, http.StatusInternalServerError, "Function error", domain.Snippet(err.Error()))
	}
}

// PollImage relays a poll handle. Every outcome the provider reports,
// including transport failures, is a 200.
func (a *App) PollImage(w http.ResponseWriter, r *http.Request) {
	var req pollRequest
	if err := decode(w, r, &req); err != nil || a.Poller.Validate(req.PollURL) != nil {
		a.json(w, http.StatusBadRequest, generation.PollResult{Status: "failed", Error: generation.MissingParametersMessage})
		return
	}
	a.json(w, http.StatusOK, a.Poller.Poll(r.Context(), req.PollURL))
}
