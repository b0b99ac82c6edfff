// Package report assembles the weekly summary of one class.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"weltverbinder/internal/board"
	"weltverbinder/internal/domain"
	"weltverbinder/internal/infra"
	"weltverbinder/internal/store"
)

const readTimeout = 10 * time.Second

type Report struct {
	Class              string         `json:"class"`
	HasState           bool           `json:"hasState"`
	CurrentDay         int            `json:"currentDay"`
	Energy             int            `json:"energy"`
	IntroCompleted     bool           `json:"introCompleted"`
	CompletedSteps     []string       `json:"completedSteps"`
	CompletedStepCount int            `json:"completedStepCount"`
	CompletedDays      []int          `json:"completedDays"`
	TotalDays          int            `json:"totalDays"`
	TaskTimings        []TaskTiming   `json:"taskTimings"`
	Quizzes            []QuizSummary  `json:"quizzes"`
	Boards             []BoardSummary `json:"boards"`
	// Failed names the sections that could not be read.
	Failed      []string `json:"failed,omitempty"`
	GeneratedAt int64    `json:"generatedAt"`
}

type TaskTiming struct {
	StepID      string `json:"stepId"`
	StartedAt   int64  `json:"startedAt,omitempty"`
	CompletedAt int64  `json:"completedAt,omitempty"`
	Duration    string `json:"duration,omitempty"`
}

type PlayerScore struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

type QuizSummary struct {
	Code          string        `json:"code"`
	SavedAt       int64         `json:"savedAt,omitempty"`
	PlayerCount   int           `json:"playerCount"`
	QuestionCount int           `json:"questionCount"`
	AverageScore  int           `json:"averageScore"`
	Top           []PlayerScore `json:"top"`
}

type BoardSummary struct {
	Key            string `json:"key"`
	Title          string `json:"title"`
	BoardCode      string `json:"boardCode"`
	SavedAt        int64  `json:"savedAt"`
	PostCount      int    `json:"postCount"`
	PostsPerColumn []int  `json:"postsPerColumn"`
}

type Builder struct {
	store  store.Store
	logger *infra.Logger
	now    func() time.Time
}

func NewBuilder(st store.Store, logger *infra.Logger) *Builder {
	if logger == nil {
		logger = infra.NewDiscardLogger()
	}
	return &Builder{store: st, logger: logger, now: time.Now}
}

// Build reads the four report sources concurrently. A source that cannot be
// read leaves its section empty and is listed in Failed.
func (b *Builder) Build(ctx context.Context, class string) (*Report, error) {
	if class == "" {
		return nil, domain.ErrInvalidClass
	}
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	sources := []struct {
		name string
		path string
	}{
		{"state", store.JoinPath("classes", class, "state")},
		{"taskTimings", store.JoinPath("classes", class, "taskTimings")},
		{"quizResults", store.JoinPath("quizResults", class)},
		{"savedBoards", "savedBoards"},
	}
	raws := make([]json.RawMessage, len(sources))
	var (
		mu     sync.Mutex
		failed []string
	)
	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			raw, err := b.store.Get(ctx, src.path)
			if err != nil {
				b.logger.Error().Err(err).Str("class", class).Str("section", src.name).Msg("report: read failed")
				mu.Lock()
				failed = append(failed, src.name)
				mu.Unlock()
				return nil
			}
			raws[i] = raw
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(failed)

	r := &Report{
		Class:          class,
		CompletedSteps: []string{},
		CompletedDays:  []int{},
		TotalDays:      domain.TotalDays,
		Failed:         failed,
		GeneratedAt:    b.now().UnixMilli(),
	}
	if state, ok := domain.DecodeSessionState(raws[0]); ok {
		r.HasState = true
		r.CurrentDay = state.CurrentDay
		r.Energy = state.Energy
		r.IntroCompleted = state.IntroCompleted
		r.CompletedSteps = state.CompletedSteps.Keys()
		r.CompletedStepCount = len(r.CompletedSteps)
		r.CompletedDays = append(r.CompletedDays, state.CompletedDays...)
		sort.Ints(r.CompletedDays)
	}
	r.TaskTimings = b.timings(class, raws[1])
	r.Quizzes = b.quizzes(class, raws[2])
	r.Boards = b.boards(class, raws[3])
	return r, nil
}

func (b *Builder) timings(class string, raw json.RawMessage) []TaskTiming {
	out := []TaskTiming{}
	if store.IsAbsent(raw) {
		return out
	}
	var byStep map[string]struct {
		StartedAt   float64 `json:"startedAt"`
		CompletedAt float64 `json:"completedAt"`
	}
	if err := json.Unmarshal(raw, &byStep); err != nil {
		b.logger.Warn().Err(err).Str("class", class).Msg("report: task timings not decodable")
		return out
	}
	for step, t := range byStep {
		start, end := int64(t.StartedAt), int64(t.CompletedAt)
		out = append(out, TaskTiming{
			StepID:      step,
			StartedAt:   start,
			CompletedAt: end,
			Duration:    FormatDuration(start, end),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepID < out[j].StepID })
	return out
}

// FormatDuration renders the time between two epoch millisecond stamps as
// "42s" or "3m 5s". It returns "" when either stamp is missing.
func FormatDuration(startMs, endMs int64) string {
	if startMs == 0 || endMs == 0 {
		return ""
	}
	secs := int64(math.Round(float64(endMs-startMs) / 1000))
	if secs < 60 {
		return strconv.FormatInt(secs, 10) + "s"
	}
	return fmt.Sprintf("%dm %ds", secs/60, secs%60)
}

type quizResult struct {
	SavedAt       float64                    `json:"savedAt"`
	PlayerCount   int                        `json:"playerCount"`
	QuestionCount int                        `json:"questionCount"`
	Questions     json.RawMessage            `json:"questions"`
	Players       map[string]json.RawMessage `json:"players"`
}

func (b *Builder) quizzes(class string, raw json.RawMessage) []QuizSummary {
	out := []QuizSummary{}
	if store.IsAbsent(raw) {
		return out
	}
	var byCode map[string]quizResult
	if err := json.Unmarshal(raw, &byCode); err != nil {
		b.logger.Warn().Err(err).Str("class", class).Msg("report: quiz results not decodable")
		return out
	}
	for code, q := range byCode {
		players := make([]PlayerScore, 0, len(q.Players))
		total := 0
		for name, data := range q.Players {
			var p struct {
				Score float64 `json:"score"`
			}
			if err := json.Unmarshal(data, &p); err != nil {
				b.logger.Warn().Err(err).
					Str("class", class).
					Str("code", code).
					Str("player", name).
					Msg("report: player record not decodable, scoring 0")
			}
			score := int(math.Round(p.Score))
			players = append(players, PlayerScore{Name: name, Score: score})
			total += score
		}
		sort.Slice(players, func(i, j int) bool {
			if players[i].Score != players[j].Score {
				return players[i].Score > players[j].Score
			}
			return players[i].Name < players[j].Name
		})
		summary := QuizSummary{
			Code:          code,
			SavedAt:       int64(q.SavedAt),
			PlayerCount:   q.PlayerCount,
			QuestionCount: q.QuestionCount,
			Top:           players[:min(3, len(players))],
		}
		if summary.PlayerCount == 0 {
			summary.PlayerCount = len(players)
		}
		if summary.QuestionCount == 0 {
			summary.QuestionCount = countEntries(q.Questions)
		}
		if len(players) > 0 {
			summary.AverageScore = int(math.Round(float64(total) / float64(len(players))))
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SavedAt != out[j].SavedAt {
			return out[i].SavedAt > out[j].SavedAt
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// countEntries counts the members of a JSON array or object. The hosted store
// returns sparse arrays as objects.
func countEntries(raw json.RawMessage) int {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		return len(list)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		return len(obj)
	}
	return 0
}

func (b *Builder) boards(class string, raw json.RawMessage) []BoardSummary {
	out := []BoardSummary{}
	saved, err := board.DecodeSavedBoards(raw)
	if err != nil {
		b.logger.Warn().Err(err).Str("class", class).Msg("report: saved boards not decodable")
		return out
	}
	for _, s := range saved {
		summary := BoardSummary{
			Key:            s.Key,
			Title:          s.Title,
			BoardCode:      s.BoardCode,
			SavedAt:        s.SavedAt,
			PostCount:      len(s.Posts),
			PostsPerColumn: make([]int, len(s.Columns)),
		}
		for _, p := range s.Posts {
			if p.Column >= 0 && p.Column < len(summary.PostsPerColumn) {
				summary.PostsPerColumn[p.Column]++
			}
		}
		out = append(out, summary)
	}
	return out
}
