package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"weltverbinder/internal/board"
	"weltverbinder/internal/domain"
	"weltverbinder/internal/generation"
	"weltverbinder/internal/infra"
	"weltverbinder/internal/report"
	"weltverbinder/internal/session"
)

const maxBodyBytes = 64 << 10

// VideoGenerator runs the generation flow for one request.
type VideoGenerator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (*generation.Result, error)
}

// Poller forwards poll handles to the provider.
type Poller interface {
	Validate(pollURL string) error
	Poll(ctx context.Context, pollURL string) generation.PollResult
}

type App struct {
	Generator   VideoGenerator
	Poller      Poller
	Sessions    *session.Syncer
	Boards      *board.Service
	Reports     *report.Builder
	Logger      *infra.Logger
	StoreDriver string
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details string `json:"details,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, tag, details string) {
	a.json(w, status, errorBody{Error: tag, Details: details})
}

func (a *App) logger() *infra.Logger {
	if a.Logger == nil {
		return infra.NewDiscardLogger()
	}
	return a.Logger
}

// decode reads a JSON body of at most maxBodyBytes into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(body).Decode(v)
	if errors.Is(err, io.EOF) {
		return errEmptyBody
	}
	return err
}

var errEmptyBody = errors.New("empty body")

// MethodNotAllowed mirrors the plain text answer of the function endpoints.
func MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusMethodNotAllowed)
	_, _ = w.Write([]byte("Method not allowed"))
}
