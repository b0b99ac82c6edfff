package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"weltverbinder/internal/board"
	"weltverbinder/internal/domain"
	"weltverbinder/internal/generation"
	"weltverbinder/internal/http/handlers"
	"weltverbinder/internal/infra"
	"weltverbinder/internal/report"
	"weltverbinder/internal/session"
	"weltverbinder/internal/store"
)

type fakeGenerator struct {
	result *generation.Result
	err    error
	calls  int
}

func (f *fakeGenerator) Generate(_ context.Context, req domain.GenerationRequest) (*generation.Result, error) {
	f.calls++
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return f.result, f.err
}

type fakePoller struct {
	result generation.PollResult
}

func (fakePoller) Validate(pollURL string) error {
	if !strings.HasPrefix(pollURL, "https://api.replicate.com/") {
		return generation.ErrMissingParameters
	}
	return nil
}

func (f fakePoller) Poll(context.Context, string) generation.PollResult {
	return f.result
}

type testEnv struct {
	handler http.Handler
	gen     *fakeGenerator
	mem     *store.Memory
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	mem := store.NewMemory()
	gen := &fakeGenerator{}
	syncer := session.NewSyncer(session.Options{Store: mem})
	t.Cleanup(func() { syncer.Close(context.Background()) })
	app := &handlers.App{
		Generator:   gen,
		Poller:      fakePoller{result: generation.PollResult{Status: "processing"}},
		Sessions:    syncer,
		Boards:      board.NewService(board.Options{Store: mem}),
		Reports:     report.NewBuilder(mem, nil),
		StoreDriver: "memory",
	}
	h := NewRouter(app, Options{Logger: *infra.NewDiscardLogger(), Metrics: infra.NewMetrics(), RateLimitPerMin: 1000})
	return &testEnv{handler: h, gen: gen, mem: mem}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestFunctionEndpointsRejectOtherMethods(t *testing.T) {
	env := newEnv(t)
	for _, path := range []string{"/v1/generate-video", "/v1/poll-image"} {
		for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
			rec := env.do(t, method, path, "")
			if rec.Code != http.StatusMethodNotAllowed || rec.Body.String() != "Method not allowed" {
				t.Errorf("%s %s = %d %q", method, path, rec.Code, rec.Body.String())
			}
		}
		rec := env.do(t, http.MethodOptions, path, "")
		if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
			t.Errorf("OPTIONS %s = %d %q", path, rec.Code, rec.Body.String())
		}
	}
	if env.gen.calls != 0 {
		t.Fatalf("generator called %d times", env.gen.calls)
	}
}

func TestGenerateVideoResponses(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		result     *generation.Result
		err        error
		wantStatus int
		wantError  string
		wantField  string
	}{
		{
			name:       "short prompt",
			body:       `{"prompt":" a "}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Prompt too short",
		},
		{
			name:       "bad json",
			body:       `{"prompt":`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid request body",
		},
		{
			name:       "unsafe",
			body:       `{"prompt":"blood and gore battle"}`,
			err:        &domain.UnsafeContentError{Reason: "violence", Message: "UNSAFE: violence"},
			wantStatus: http.StatusBadRequest,
			wantError:  "unsafe",
			wantField:  "message",
		},
		{
			name:       "missing credential",
			body:       `{"prompt":"a happy cat"}`,
			err:        &domain.ConfigError{Variable: "REPLICATE_API_KEY"},
			wantStatus: http.StatusInternalServerError,
			wantError:  "Server config error",
			wantField:  "details",
		},
		{
			name: "upstream",
			body: `{"prompt":"a happy cat"}`,
			err: &generation.StageError{Stage: generation.StageGeneration, Err: &domain.UpstreamError{
				Provider: "Replicate", Stage: "generation", Status: 422, Body: "invalid input",
			}},
			wantStatus: http.StatusInternalServerError,
			wantError:  "Replicate API error",
			wantField:  "details",
		},
		{
			name:       "unknown failure",
			body:       `{"prompt":"a happy cat"}`,
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "Function error",
		},
		{
			name:       "processing",
			body:       `{"prompt":"a happy cat","model":"quality"}`,
			result:     &generation.Result{Status: "processing", PollURL: "https://api.replicate.com/v1/predictions/p1", EnhancedPrompt: "x", OriginalPrompt: "a happy cat"},
			wantStatus: http.StatusOK,
			wantField:  "pollUrl",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newEnv(t)
			env.gen.result, env.gen.err = tc.result, tc.err
			rec := env.do(t, http.MethodPost, "/v1/generate-video", tc.body)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.wantStatus, rec.Body.String())
			}
			body := decodeBody(t, rec)
			if tc.wantError != "" && body["error"] != tc.wantError {
				t.Fatalf("error = %v, want %q", body["error"], tc.wantError)
			}
			if tc.wantField != "" {
				if s, _ := body[tc.wantField].(string); s == "" {
					t.Fatalf("missing %s in %v", tc.wantField, body)
				}
			}
			if strings.Contains(rec.Body.String(), "sk-") {
				t.Fatal("response leaks a credential")
			}
		})
	}
}

func TestPollImage(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/poll-image", `{"pollUrl":"https://api.replicate.com/v1/predictions/p1"}`)
	if rec.Code != http.StatusOK || decodeBody(t, rec)["status"] != "processing" {
		t.Fatalf("poll = %d %s", rec.Code, rec.Body.String())
	}
	for _, body := range []string{``, `{}`, `{"pollUrl":"https://evil.example/x"}`} {
		rec = env.do(t, http.MethodPost, "/v1/poll-image", body)
		got := decodeBody(t, rec)
		if rec.Code != http.StatusBadRequest || got["status"] != "failed" || got["error"] != "Missing parameters" {
			t.Errorf("body %q: %d %v", body, rec.Code, got)
		}
	}
}

func TestClassEndpoints(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/classes/Klasse%204b/state", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"state":null`) {
		t.Fatalf("first run = %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPut, "/v1/classes/Klasse%204b/state", `{"currentDay":2,"energy":"lots","volume":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put = %d %s", rec.Code, rec.Body.String())
	}
	raw, _ := env.mem.Get(context.Background(), "classes/klasse-4b/state")
	if strings.Contains(string(raw), "volume") || !strings.Contains(string(raw), `"currentDay":2`) || !strings.Contains(string(raw), `"energy":100`) {
		t.Fatalf("stored %s", raw)
	}

	rec = env.do(t, http.MethodGet, "/v1/classes", "")
	if !strings.Contains(rec.Body.String(), `"klasse-4b"`) {
		t.Fatalf("list = %s", rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/v1/classes/klasse-4b/report", "")
	if rec.Code != http.StatusOK || decodeBody(t, rec)["currentDay"] != float64(2) {
		t.Fatalf("report = %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodDelete, "/v1/classes/klasse-4b", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/v1/classes", "")
	if strings.TrimSpace(rec.Body.String()) != `{"classes":[]}` {
		t.Fatalf("list after delete = %s", rec.Body.String())
	}
}

func TestBoardLifecycle(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/boards", `{"title":"Klassenrat","columns":["Ideen","Fragen"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rec.Code, rec.Body.String())
	}
	code, _ := decodeBody(t, rec)["code"].(string)
	base := "/v1/boards/" + code

	rec = env.do(t, http.MethodPost, base+"/posts", `{"text":"Warum?","author":"Mia","column":1}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("post = %d %s", rec.Code, rec.Body.String())
	}
	key, _ := decodeBody(t, rec)["key"].(string)

	rec = env.do(t, http.MethodPost, base+"/posts", `{"text":"Gute Frage","column":0,"teacher":true}`)
	if got := decodeBody(t, rec); got["author"] != board.TeacherAuthor {
		t.Fatalf("teacher post = %v", got)
	}
	rec = env.do(t, http.MethodPost, base+"/posts", `{"text":"x","column":9}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad column = %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, base+"/posts/"+key+"/likes", `{"deviceId":"dev-1"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("like = %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, base+"/snapshots", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("snapshot = %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, "/v1/saved-boards", "")
	if !strings.Contains(rec.Body.String(), `"boardCode":"`+code+`"`) {
		t.Fatalf("saved boards = %s", rec.Body.String())
	}

	if rec = env.do(t, http.MethodPost, base+"/close", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("close = %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, base+"/posts", `{"text":"zu spät","column":0}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("post on closed board = %d", rec.Code)
	}

	if rec = env.do(t, http.MethodDelete, base, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", rec.Code)
	}
	if rec = env.do(t, http.MethodGet, base, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted = %d", rec.Code)
	}
	if rec = env.do(t, http.MethodGet, "/v1/boards/nope", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid code = %d", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/healthz", "")
	if rec.Code != http.StatusOK || decodeBody(t, rec)["store"] != "memory" {
		t.Fatalf("health = %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("metrics = %d", rec.Code)
	}
	if rec = env.do(t, http.MethodGet, "/v1/openapi.json", ""); rec.Code != http.StatusOK || !json.Valid(rec.Body.Bytes()) {
		t.Fatalf("openapi = %d", rec.Code)
	}
	if rec = env.do(t, http.MethodGet, "/v1/docs", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `spec-url="/v1/openapi.json"`) {
		t.Fatalf("docs = %d", rec.Code)
	}
}
