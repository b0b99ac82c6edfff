package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"weltverbinder/internal/board"
	"weltverbinder/internal/domain"
)

type createBoardRequest struct {
	Title   string   `json:"title"`
	Columns []string `json:"columns"`
}

type addPostRequest struct {
	board.NewPost
	Teacher bool `json:"teacher"`
}

type likeRequest struct {
	DeviceID string `json:"deviceId"`
	Liked    *bool  `json:"liked"`
}

func (a *App) boardError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, board.ErrInvalidCode):
		a.error(w, http.StatusBadRequest, "Invalid board code", "")
	case errors.Is(err, domain.ErrInvalidPost):
		a.error(w, http.StatusBadRequest, "Invalid post", strings.TrimPrefix(err.Error(), domain.ErrInvalidPost.Error()+": "))
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "Not found", "")
	case errors.Is(err, domain.ErrBoardClosed):
		a.error(w, http.StatusConflict, "Board closed", "")
	default:
		a.logger().Error().Err(err).Msg("board operation failed")
		a.error(w, http.StatusInternalServerError, "Store error", "")
	}
}

func (a *App) CreateBoard(w http.ResponseWriter, r *http.Request) {
	var req createBoardRequest
	if err := decode(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		a.error(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}
	b, err := a.Boards.Create(r.Context(), req.Title, req.Columns)
	if err != nil {
		a.boardError(w, err)
		return
	}
	a.json(w, http.StatusCreated, map[string]any{"code": b.Code, "board": b})
}

func (a *App) GetBoard(w http.ResponseWriter, r *http.Request) {
	b, err := a.Boards.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		a.boardError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"code": b.Code, "board": b})
}

func (a *App) DeleteBoard(w http.ResponseWriter, r *http.Request) {
	if err := a.Boards.Delete(r.Context(), chi.URLParam(r, "code")); err != nil {
		a.boardError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) CloseBoard(w http.ResponseWriter, r *http.Request) {
	if err := a.Boards.Close(r.Context(), chi.URLParam(r, "code")); err != nil {
		a.boardError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) ListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := a.Boards.Posts(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		a.boardError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"posts": posts})
}

func (a *App) AddPost(w http.ResponseWriter, r *http.Request) {
	var req addPostRequest
	if err := decode(w, r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}
	code := chi.URLParam(r, "code")
	var (
		post *domain.Post
		err  error
	)
	if req.Teacher {
		post, err = a.Boards.TeacherPost(r.Context(), code, req.Column, req.Text)
	} else {
		post, err = a.Boards.AddPost(r.Context(), code, req.NewPost)
	}
	if err != nil {
		a.boardError(w, err)
		return
	}
	a.json(w, http.StatusCreated, post)
}

func (a *App) ClearPosts(w http.ResponseWriter, r *http.Request) {
	if err := a.Boards.ClearPosts(r.Context(), chi.URLParam(r, "code")); err != nil {
		a.boardError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) DeletePost(w http.ResponseWriter, r *http.Request) {
	if err := a.Boards.DeletePost(r.Context(), chi.URLParam(r, "code"), chi.URLParam(r, "key")); err != nil {
		a.boardError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LikePost takes the device from the body or the X-Device-ID header.
// Liked defaults to true.
func (a *App) LikePost(w http.ResponseWriter, r *http.Request) {
	var req likeRequest
	if err := decode(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		a.error(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}
	device := strings.TrimSpace(req.DeviceID)
	if device == "" {
		device = strings.TrimSpace(r.Header.Get("X-Device-ID"))
	}
	liked := req.Liked == nil || *req.Liked
	if err := a.Boards.Like(r.Context(), chi.URLParam(r, "code"), chi.URLParam(r, "key"), device, liked); err != nil {
		a.boardError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) SaveBoard(w http.ResponseWriter, r *http.Request) {
	saved, err := a.Boards.Save(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		a.boardError(w, err)
		return
	}
	a.json(w, http.StatusCreated, saved)
}

func (a *App) ListSavedBoards(w http.ResponseWriter, r *http.Request) {
	saved, err := a.Boards.SavedBoards(r.Context())
	if err != nil {
		a.boardError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"savedBoards": saved})
}

func (a *App) DeleteSavedBoard(w http.ResponseWriter, r *http.Request) {
	if err := a.Boards.DeleteSaved(r.Context(), chi.URLParam(r, "key")); err != nil {
		a.boardError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
