// Package board runs the live question boards students post notes to.
package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"weltverbinder/internal/domain"
	"weltverbinder/internal/infra"
	"weltverbinder/internal/store"
)

const (
	CodeAlphabet  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	CodeLength    = 6
	DefaultTitle  = "Fragen-Werkstatt"
	TeacherAuthor = "\U0001F31F Lehrkraft"
	TeacherColor  = "#B3E5FC"
	DefaultColor  = "#FFE0B2"
	DefaultAuthor = "Anonym"
	MaxPostLength = 500

	createTimeout     = 8 * time.Second
	maxCreateAttempts = 5
	blankColumnTitle  = "Spalte"
)

// DefaultColumns is used when a board is created without columns.
var DefaultColumns = []string{"Pause & Freizeit", "Schule & Lernen", "Mitbestimmung", "Alltag"}

var (
	ErrInvalidCode = errors.New("invalid board code")
	ErrCodeSpace   = errors.New("no free board code")
)

type Options struct {
	Store  store.Store
	Logger *infra.Logger
	Now    func() time.Time
	Rand   *rand.Rand
}

type Service struct {
	store  store.Store
	logger *infra.Logger
	now    func() time.Time
	rnd    *rand.Rand
}

func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = infra.NewDiscardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{store: opts.Store, logger: logger, now: now, rnd: opts.Rand}
}

// NewPost is what a client submits; the service stamps the rest.
type NewPost struct {
	Text     string `json:"text"`
	Author   string `json:"author"`
	Column   int    `json:"column"`
	Color    string `json:"color"`
	ImageURL string `json:"imageUrl"`
}

func boardPath(code string) string { return store.JoinPath("boards", code) }
func postsPath(code string) string { return store.JoinPath("boards", code, "posts") }

// NormalizeCode upper-cases and trims code and checks it against the alphabet.
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != CodeLength {
		return "", ErrInvalidCode
	}
	for _, r := range code {
		if !strings.ContainsRune(CodeAlphabet, r) {
			return "", ErrInvalidCode
		}
	}
	return code, nil
}

func (s *Service) newCode() string {
	var b [CodeLength]byte
	for i := range b {
		var n int
		if s.rnd != nil {
			n = s.rnd.IntN(len(CodeAlphabet))
		} else {
			n = rand.IntN(len(CodeAlphabet))
		}
		b[i] = CodeAlphabet[n]
	}
	return string(b[:])
}

// Create opens a new active board under a fresh code. Blank titles and
// columns get defaults. The whole call is bounded by an 8 second timeout.
func (s *Service) Create(ctx context.Context, title string, columns []string) (*domain.Board, error) {
	ctx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()

	board := domain.Board{
		Title:     strings.TrimSpace(title),
		Columns:   normalizeColumns(columns),
		Active:    true,
		CreatedAt: s.now().UnixMilli(),
	}
	if board.Title == "" {
		board.Title = DefaultTitle
	}

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		code := s.newCode()
		created, err := s.store.Create(ctx, boardPath(code), board)
		if err != nil {
			return nil, fmt.Errorf("create board: %w", err)
		}
		if !created {
			s.logger.Debug().Str("code", code).Msg("board code taken, retrying")
			continue
		}
		board.Code = code
		s.logger.Info().Str("code", code).Int("columns", len(board.Columns)).Msg("board created")
		return &board, nil
	}
	return nil, ErrCodeSpace
}

func normalizeColumns(columns []string) []string {
	if len(columns) == 0 {
		return append([]string(nil), DefaultColumns...)
	}
	out := make([]string, len(columns))
	for i, c := range columns {
		c = strings.TrimSpace(c)
		if c == "" {
			c = blankColumnTitle
		}
		out[i] = c
	}
	return out
}

// Get returns the board stored under code or domain.ErrNotFound.
func (s *Service) Get(ctx context.Context, code string) (*domain.Board, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return nil, err
	}
	var board domain.Board
	ok, err := store.GetJSON(ctx, s.store, boardPath(code), &board)
	if err != nil {
		return nil, fmt.Errorf("get board %s: %w", code, err)
	}
	if !ok {
		return nil, domain.ErrNotFound
	}
	board.Code = code
	if len(board.Columns) == 0 {
		board.Columns = append([]string(nil), DefaultColumns...)
	}
	return &board, nil
}

// Posts lists the notes of a board, oldest first.
func (s *Service) Posts(ctx context.Context, code string) ([]domain.Post, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return nil, err
	}
	raw, err := s.store.Get(ctx, postsPath(code))
	if err != nil {
		return nil, fmt.Errorf("list posts %s: %w", code, err)
	}
	return decodePosts(raw)
}

// WatchPosts calls fn with the sorted posts now and after every change.
func (s *Service) WatchPosts(ctx context.Context, code string, fn func([]domain.Post)) (func(), error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return nil, err
	}
	log := s.logger.With().Str("code", code).Logger()
	return s.store.Watch(ctx, postsPath(code), func(raw json.RawMessage) {
		posts, err := decodePosts(raw)
		if err != nil {
			log.Warn().Err(err).Msg("board posts not decodable")
			return
		}
		fn(posts)
	}, func(err error) {
		log.Warn().Err(err).Msg("board watch error")
	})
}

func decodePosts(raw json.RawMessage) ([]domain.Post, error) {
	if store.IsAbsent(raw) {
		return []domain.Post{}, nil
	}
	var byKey map[string]domain.Post
	if err := json.Unmarshal(raw, &byKey); err != nil {
		return nil, fmt.Errorf("decode posts: %w", err)
	}
	posts := make([]domain.Post, 0, len(byKey))
	for key, p := range byKey {
		p.Key = key
		posts = append(posts, p)
	}
	sortPosts(posts)
	return posts, nil
}

func sortPosts(posts []domain.Post) {
	sort.Slice(posts, func(i, j int) bool {
		if posts[i].Timestamp != posts[j].Timestamp {
			return posts[i].Timestamp < posts[j].Timestamp
		}
		return posts[i].Key < posts[j].Key
	})
}

// AddPost appends a note to an active board.
func (s *Service) AddPost(ctx context.Context, code string, in NewPost) (*domain.Post, error) {
	board, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if !board.Active {
		return nil, domain.ErrBoardClosed
	}
	post, err := s.buildPost(board, in)
	if err != nil {
		return nil, err
	}
	key, err := s.store.Push(ctx, postsPath(board.Code), post)
	if err != nil {
		return nil, fmt.Errorf("add post %s: %w", board.Code, err)
	}
	post.Key = key
	return &post, nil
}

// TeacherPost adds a note signed and colored as the teacher's.
func (s *Service) TeacherPost(ctx context.Context, code string, column int, text string) (*domain.Post, error) {
	return s.AddPost(ctx, code, NewPost{Text: text, Author: TeacherAuthor, Column: column, Color: TeacherColor})
}

func (s *Service) buildPost(board *domain.Board, in NewPost) (domain.Post, error) {
	text := strings.TrimSpace(in.Text)
	imageURL := strings.TrimSpace(in.ImageURL)
	if text == "" && imageURL == "" {
		return domain.Post{}, fmt.Errorf("%w: empty text", domain.ErrInvalidPost)
	}
	if utf8.RuneCountInString(text) > MaxPostLength {
		return domain.Post{}, fmt.Errorf("%w: text longer than %d characters", domain.ErrInvalidPost, MaxPostLength)
	}
	if in.Column < 0 || in.Column >= len(board.Columns) {
		return domain.Post{}, fmt.Errorf("%w: column %d out of range", domain.ErrInvalidPost, in.Column)
	}
	author := strings.TrimSpace(in.Author)
	if author == "" {
		author = DefaultAuthor
	}
	color := strings.TrimSpace(in.Color)
	if color == "" {
		color = DefaultColor
	}
	return domain.Post{
		Text:      text,
		Author:    author,
		Column:    in.Column,
		Color:     color,
		Timestamp: s.now().UnixMilli(),
		ImageURL:  imageURL,
	}, nil
}

func validKey(key string) bool {
	key = strings.TrimSpace(key)
	return key != "" && !strings.ContainsAny(key, ".$#[]/")
}

// Like records or withdraws the like of one device on a post.
func (s *Service) Like(ctx context.Context, code, postKey, deviceID string, liked bool) error {
	code, err := NormalizeCode(code)
	if err != nil {
		return err
	}
	if !validKey(postKey) || !validKey(deviceID) {
		return fmt.Errorf("%w: bad post or device key", domain.ErrInvalidPost)
	}
	postPath := store.JoinPath(postsPath(code), postKey)
	raw, err := s.store.Get(ctx, postPath)
	if err != nil {
		return fmt.Errorf("like post %s: %w", postKey, err)
	}
	if store.IsAbsent(raw) {
		return domain.ErrNotFound
	}
	var value any
	if liked {
		value = true
	}
	if err := s.store.Set(ctx, store.JoinPath(postPath, "likes", deviceID), value); err != nil {
		return fmt.Errorf("like post %s: %w", postKey, err)
	}
	return nil
}

func (s *Service) DeletePost(ctx context.Context, code, postKey string) error {
	code, err := NormalizeCode(code)
	if err != nil {
		return err
	}
	if !validKey(postKey) {
		return fmt.Errorf("%w: bad post key", domain.ErrInvalidPost)
	}
	if err := s.store.Delete(ctx, store.JoinPath(postsPath(code), postKey)); err != nil {
		return fmt.Errorf("delete post %s: %w", postKey, err)
	}
	return nil
}

// ClearPosts removes every note but keeps the board open.
func (s *Service) ClearPosts(ctx context.Context, code string) error {
	code, err := NormalizeCode(code)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, postsPath(code)); err != nil {
		return fmt.Errorf("clear posts %s: %w", code, err)
	}
	return nil
}

// Close stops the board from accepting posts.
func (s *Service) Close(ctx context.Context, code string) error {
	board, err := s.Get(ctx, code)
	if err != nil {
		return err
	}
	if err := s.store.Update(ctx, boardPath(board.Code), map[string]any{"active": false}); err != nil {
		return fmt.Errorf("close board %s: %w", board.Code, err)
	}
	s.logger.Info().Str("code", board.Code).Msg("board closed")
	return nil
}

// Delete removes the board and its posts. Saved snapshots are kept.
func (s *Service) Delete(ctx context.Context, code string) error {
	code, err := NormalizeCode(code)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, boardPath(code)); err != nil {
		return fmt.Errorf("delete board %s: %w", code, err)
	}
	return nil
}

// Save freezes the board and its current posts into savedBoards.
func (s *Service) Save(ctx context.Context, code string) (*domain.SavedBoard, error) {
	board, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	posts, err := s.Posts(ctx, board.Code)
	if err != nil {
		return nil, err
	}
	snapshot := domain.SavedBoard{
		Title:     board.Title,
		Columns:   board.Columns,
		Posts:     make(map[string]domain.Post, len(posts)),
		SavedAt:   s.now().UnixMilli(),
		BoardCode: board.Code,
	}
	for _, p := range posts {
		key := p.Key
		p.Key = ""
		snapshot.Posts[key] = p
	}
	key, err := s.store.Push(ctx, "savedBoards", snapshot)
	if err != nil {
		return nil, fmt.Errorf("save board %s: %w", board.Code, err)
	}
	snapshot.Key = key
	return &snapshot, nil
}

// SavedBoards lists snapshots, newest first.
func (s *Service) SavedBoards(ctx context.Context) ([]domain.SavedBoard, error) {
	raw, err := s.store.Get(ctx, "savedBoards")
	if err != nil {
		return nil, fmt.Errorf("list saved boards: %w", err)
	}
	return DecodeSavedBoards(raw)
}

// DecodeSavedBoards parses the savedBoards node, newest first.
func DecodeSavedBoards(raw json.RawMessage) ([]domain.SavedBoard, error) {
	if store.IsAbsent(raw) {
		return []domain.SavedBoard{}, nil
	}
	var byKey map[string]domain.SavedBoard
	if err := json.Unmarshal(raw, &byKey); err != nil {
		return nil, fmt.Errorf("decode saved boards: %w", err)
	}
	out := make([]domain.SavedBoard, 0, len(byKey))
	for key, b := range byKey {
		b.Key = key
		if b.Posts == nil {
			b.Posts = map[string]domain.Post{}
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SavedAt != out[j].SavedAt {
			return out[i].SavedAt > out[j].SavedAt
		}
		return out[i].Key > out[j].Key
	})
	return out, nil
}

func (s *Service) DeleteSaved(ctx context.Context, key string) error {
	if !validKey(key) {
		return fmt.Errorf("%w: bad snapshot key", domain.ErrInvalidPost)
	}
	if err := s.store.Delete(ctx, store.JoinPath("savedBoards", key)); err != nil {
		return fmt.Errorf("delete saved board %s: %w", key, err)
	}
	return nil
}
