package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/http/handlers"
	"server/internal/http/httpapi"
	"server/internal/inference"
	"server/internal/jobs"
)

type memJobRepo struct {
	mu   sync.Mutex
	seq  int
	jobs map[string]*domain.Job
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: map[string]*domain.Job{}}
}

func (m *memJobRepo) CreatePending(_ context.Context, job *domain.Job) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	job.ID = fmt.Sprintf("job-%d", m.seq)
	job.Status = domain.JobStatusPending
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt
	stored := *job
	m.jobs[job.ID] = &stored
	return job.ID, nil
}

func (m *memJobRepo) MarkCompleted(_ context.Context, jobID, resultURL, thumbnailURL string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Metadata == nil {
		job.Metadata = map[string]any{}
	}
	for k, v := range metadata {
		job.Metadata[k] = v
	}
	job.ResultURL = resultURL
	job.ThumbnailURL = thumbnailURL
	job.Status = domain.JobStatusCompleted
	job.UpdatedAt = time.Now()
	return nil
}

func (m *memJobRepo) MarkFailed(_ context.Context, jobID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = message
	job.UpdatedAt = time.Now()
	return nil
}

func (m *memJobRepo) GetByID(_ context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (m *memJobRepo) ListByOwner(_ context.Context, ownerID string, q domain.JobQuery) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for _, job := range m.jobs {
		if job.OwnerID != ownerID || job.Status != domain.JobStatusCompleted {
			continue
		}
		if q.Kind != "" && job.Kind != q.Kind {
			continue
		}
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *memJobRepo) DeleteByID(_ context.Context, jobID, requestingOwnerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.OwnerID != requestingOwnerID {
		return domain.ErrUnauthorized
	}
	delete(m.jobs, jobID)
	return nil
}

func (m *memJobRepo) SearchByPrompt(_ context.Context, ownerID, term string) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.ToLower(term)
	var out []domain.Job
	for _, job := range m.jobs {
		if job.OwnerID != ownerID || job.Status != domain.JobStatusCompleted {
			continue
		}
		if strings.Contains(strings.ToLower(job.Prompt), needle) ||
			strings.Contains(strings.ToLower(job.NegativePrompt), needle) {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (m *memJobRepo) ListRecent(_ context.Context, limit int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for _, job := range m.jobs {
		if job.Status == domain.JobStatusCompleted {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memJobRepo) StatsByOwner(_ context.Context, ownerID string) (*domain.JobStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &domain.JobStats{}
	for _, job := range m.jobs {
		if job.OwnerID != ownerID {
			continue
		}
		stats.Total++
		switch job.Kind {
		case domain.JobKindGenerated:
			stats.Generated++
		case domain.JobKindEdited:
			stats.Edited++
		case domain.JobKindUpscaled:
			stats.Upscaled++
		case domain.JobKindBGRemoved:
			stats.BGRemoved++
		case domain.JobKindRestored:
			stats.Restored++
		case domain.JobKindMixed:
			stats.Mixed++
		}
		switch job.Status {
		case domain.JobStatusCompleted:
			stats.Completed++
		case domain.JobStatusFailed:
			stats.Failed++
		default:
			stats.Processing++
		}
	}
	return stats, nil
}

type memTrendingRepo struct {
	mu      sync.Mutex
	entries map[string]*domain.TrendingEntry // keyed jobID|day
	jobs    *memJobRepo
}

func (m *memTrendingRepo) Bump(_ context.Context, jobID, day string, views, likes, shares int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := jobID + "|" + day
	entry, ok := m.entries[key]
	if !ok {
		entry = &domain.TrendingEntry{JobID: jobID, Day: day}
		m.entries[key] = entry
	}
	entry.Views += views
	entry.Likes += likes
	entry.Shares += shares
	entry.Score = domain.TrendingScore(entry.Views, entry.Likes, entry.Shares)
	return nil
}

func (m *memTrendingRepo) ListTop(ctx context.Context, day string, limit int) ([]domain.TrendingImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TrendingImage
	for _, entry := range m.entries {
		if entry.Day != day {
			continue
		}
		job, err := m.jobs.GetByID(ctx, entry.JobID)
		if err != nil || job.Status != domain.JobStatusCompleted {
			continue
		}
		out = append(out, domain.TrendingImage{
			Job:    *job,
			Score:  entry.Score,
			Views:  entry.Views,
			Likes:  entry.Likes,
			Shares: entry.Shares,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memUserRepo struct {
	mu      sync.Mutex
	credits map[string]int
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{credits: map[string]int{}}
}

func (m *memUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	credits, ok := m.credits[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &domain.User{ID: id, Credits: credits, Tier: domain.UserTierFree}, nil
}

func (m *memUserRepo) InitCredits(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.credits[id]; !ok {
		m.credits[id] = domain.DefaultCredits
	}
	return &domain.User{ID: id, Credits: m.credits[id], Tier: domain.UserTierFree}, nil
}

func (m *memUserRepo) SpendCredits(_ context.Context, id string, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	credits, ok := m.credits[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if credits < amount {
		return credits, domain.ErrNoCredits
	}
	m.credits[id] -= amount
	return m.credits[id], nil
}

type stubGateway struct {
	url string
	err error
}

func (s *stubGateway) UploadFromURL(context.Context, string, string, string) (string, error) {
	return s.url, s.err
}

func (s *stubGateway) UploadFromBase64(context.Context, string, string, string) (string, error) {
	return s.url, s.err
}

func (s *stubGateway) Delete(context.Context, string) error { return nil }

type stubInference struct {
	outputs []string
	err     error
}

func (s *stubInference) answer() ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.outputs, nil
}

func (s *stubInference) Generate(context.Context, inference.GenerateParams) ([]string, error) {
	return s.answer()
}
func (s *stubInference) Mix(context.Context, inference.MixParams) ([]string, error) {
	return s.answer()
}
func (s *stubInference) RemoveBackground(context.Context, string, bool) ([]string, error) {
	return s.answer()
}
func (s *stubInference) Upscale(context.Context, inference.UpscaleParams) ([]string, error) {
	return s.answer()
}
func (s *stubInference) Restore(context.Context, string, int) ([]string, error) {
	return s.answer()
}
func (s *stubInference) Edit(context.Context, inference.EditParams) ([]string, error) {
	return s.answer()
}

type testEnv struct {
	repo     *memJobRepo
	trending *memTrendingRepo
	users    *memUserRepo
	infer    *stubInference
	handler  http.Handler
}

func newTestEnv() *testEnv {
	repo := newMemJobRepo()
	trending := &memTrendingRepo{entries: map[string]*domain.TrendingEntry{}, jobs: repo}
	users := newMemUserRepo()
	infer := &stubInference{outputs: []string{"https://replicate.delivery/x/out.jpg"}}
	blobs := &stubGateway{url: "https://cdn.example.com/images/out.jpg"}

	svc := jobs.NewService(repo, users, blobs, infer, nil, zerolog.Nop())
	app := handlers.NewApp(svc, repo, trending, users, nil, zerolog.Nop())
	handler := httpapi.NewRouter(app, httpapi.Options{Logger: zerolog.Nop()})

	return &testEnv{repo: repo, trending: trending, users: users, infer: infer, handler: handler}
}

func (e *testEnv) do(t *testing.T, method, path, userID string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func (e *testEnv) seedCompleted(t *testing.T, ownerID string, kind domain.JobKind, prompt string) string {
	t.Helper()
	ctx := context.Background()
	id, err := e.repo.CreatePending(ctx, &domain.Job{OwnerID: ownerID, Kind: kind, Prompt: prompt})
	if err != nil {
		t.Fatalf("seed create: %v", err)
	}
	if err := e.repo.MarkCompleted(ctx, id, "https://cdn.example.com/"+id+".jpg", "", nil); err != nil {
		t.Fatalf("seed complete: %v", err)
	}
	return id
}

func TestHealth(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, http.MethodGet, "/v1/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestGenerateEndpoint(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, http.MethodPost, "/v1/images/generate", "u1", map[string]any{"prompt": "a cat"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	jobID, _ := body["job_id"].(string)
	if jobID == "" {
		t.Fatalf("missing job_id in %v", body)
	}
	if body["result_url"] != "https://cdn.example.com/images/out.jpg" {
		t.Fatalf("result_url = %v", body["result_url"])
	}

	job, err := env.repo.GetByID(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %q, want completed", job.Status)
	}
	if job.ResultURL == "" {
		t.Fatalf("completed job missing result url")
	}
}

func TestGenerateRequiresIdentity(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, http.MethodPost, "/v1/images/generate", "", map[string]any{"prompt": "a cat"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestGenerateValidationError(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, http.MethodPost, "/v1/images/generate", "u1", map[string]any{"prompt": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "bad_request" {
		t.Fatalf("error slug = %v", body["error"])
	}
	if len(env.repo.jobs) != 0 {
		t.Fatalf("validation failure must not create a record")
	}
}

func TestProviderFailureMapsToBadGateway(t *testing.T) {
	env := newTestEnv()
	env.infer.err = &inference.ProviderError{StatusCode: 500, Message: "model exploded"}

	rec := env.do(t, http.MethodPost, "/v1/images/generate", "u1", map[string]any{"prompt": "a cat"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}

	completed, err := env.repo.ListByOwner(context.Background(), "u1", domain.JobQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(completed) != 0 {
		t.Fatalf("failed job must not appear in the completed list")
	}
	var failed *domain.Job
	for _, job := range env.repo.jobs {
		failed = job
	}
	if failed == nil || failed.Status != domain.JobStatusFailed {
		t.Fatalf("job = %+v, want failed record", failed)
	}
	if !strings.Contains(failed.ErrorMessage, "model exploded") {
		t.Fatalf("error message = %q", failed.ErrorMessage)
	}
}

func TestUploadSource(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, http.MethodPost, "/v1/images/upload", "u1", map[string]any{
		"image_base64": "data:image/png;base64,AAAA",
		"content_type": "image/png",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["url"] != "https://cdn.example.com/images/out.jpg" {
		t.Fatalf("url = %v", body["url"])
	}

	rec = env.do(t, http.MethodPost, "/v1/images/upload", "u1", map[string]any{"image_base64": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty payload status = %d, want 400", rec.Code)
	}
}

func TestImageStatusFallsBackToRepo(t *testing.T) {
	env := newTestEnv()
	id := env.seedCompleted(t, "u1", domain.JobKindGenerated, "a cat")

	rec := env.do(t, http.MethodGet, "/v1/images/"+id+"/status", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != string(domain.JobStatusCompleted) {
		t.Fatalf("job status = %v, want completed", body["status"])
	}
	if body["done"] != true {
		t.Fatalf("done = %v, want true", body["done"])
	}
}

func TestMarkCompletedMergesMetadata(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	id, err := env.repo.CreatePending(ctx, &domain.Job{
		OwnerID:  "u1",
		Kind:     domain.JobKindGenerated,
		Prompt:   "a cat",
		Metadata: map[string]any{"width": 100},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.repo.MarkCompleted(ctx, id, "https://cdn.example.com/out.jpg", "", map[string]any{"seed": 5}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/v1/images/"+id, "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	meta, _ := decodeBody(t, rec)["metadata"].(map[string]any)
	if meta["width"] != float64(100) {
		t.Fatalf("metadata = %v, existing width lost", meta)
	}
	if meta["seed"] != float64(5) {
		t.Fatalf("metadata = %v, patched seed missing", meta)
	}
}

func TestGetImageNotFound(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, http.MethodGet, "/v1/images/nope", "u1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestDeleteImageWrongOwner(t *testing.T) {
	env := newTestEnv()
	id := env.seedCompleted(t, "u1", domain.JobKindGenerated, "a cat")

	rec := env.do(t, http.MethodDelete, "/v1/images/"+id, "u2", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/v1/images/"+id, "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestListImagesFiltersByKind(t *testing.T) {
	env := newTestEnv()
	env.seedCompleted(t, "u1", domain.JobKindGenerated, "a cat")
	env.seedCompleted(t, "u1", domain.JobKindUpscaled, "bigger cat")
	env.seedCompleted(t, "u2", domain.JobKindGenerated, "a dog")

	rec := env.do(t, http.MethodGet, "/v1/images?kind=generated", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	items, _ := decodeBody(t, rec)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
}

func TestSearchImagesMatchesCaseInsensitive(t *testing.T) {
	env := newTestEnv()
	env.seedCompleted(t, "u1", domain.JobKindGenerated, "a cat in a hat")
	env.seedCompleted(t, "u1", domain.JobKindGenerated, "a dog")

	rec := env.do(t, http.MethodGet, "/v1/images/search?q=CAT", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	items, _ := decodeBody(t, rec)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	first, _ := items[0].(map[string]any)
	if first["prompt"] != "a cat in a hat" {
		t.Fatalf("prompt = %v", first["prompt"])
	}
}

func TestSearchImagesRequiresQuery(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, http.MethodGet, "/v1/images/search", "u1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestTrendingFlow(t *testing.T) {
	env := newTestEnv()
	id := env.seedCompleted(t, "u1", domain.JobKindGenerated, "a cat")

	for i := 0; i < 3; i++ {
		if rec := env.do(t, http.MethodPost, "/v1/images/"+id+"/view", "u2", nil); rec.Code != http.StatusOK {
			t.Fatalf("view status = %d", rec.Code)
		}
	}
	if rec := env.do(t, http.MethodPost, "/v1/images/"+id+"/like", "u2", nil); rec.Code != http.StatusOK {
		t.Fatalf("like status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/v1/images/"+id+"/share", "u2", nil); rec.Code != http.StatusOK {
		t.Fatalf("share status = %d", rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/v1/trending", "u2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("trending status = %d", rec.Code)
	}
	items, _ := decodeBody(t, rec)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	entry := items[0].(map[string]any)
	// 3 views + 1 like * 5 + 1 share * 10
	if score := entry["score"].(float64); score != 18 {
		t.Fatalf("score = %v, want 18", score)
	}
}

func TestBumpUnknownImage(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, http.MethodPost, "/v1/images/nope/view", "u1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCreditsLifecycle(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodGet, "/v1/users/me/credits", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if credits := decodeBody(t, rec)["credits"].(float64); credits != float64(domain.DefaultCredits) {
		t.Fatalf("uninitialized credits = %v, want default", credits)
	}

	rec = env.do(t, http.MethodPost, "/v1/users/me/credits/init", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("init status = %d", rec.Code)
	}

	// One generation spends one credit.
	if rec = env.do(t, http.MethodPost, "/v1/images/generate", "u1", map[string]any{"prompt": "a cat"}); rec.Code != http.StatusOK {
		t.Fatalf("generate status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/v1/users/me/credits", "u1", nil)
	if credits := decodeBody(t, rec)["credits"].(float64); credits != float64(domain.DefaultCredits-1) {
		t.Fatalf("credits = %v, want %d", credits, domain.DefaultCredits-1)
	}
}

func TestGenerateWithoutCredits(t *testing.T) {
	env := newTestEnv()
	env.users.credits["u1"] = 0

	rec := env.do(t, http.MethodPost, "/v1/images/generate", "u1", map[string]any{"prompt": "a cat"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "no_credits" {
		t.Fatalf("error slug = %v", body["error"])
	}
}

func TestNoCreditsMessageIsLocalized(t *testing.T) {
	env := newTestEnv()
	env.users.credits["u1"] = 0

	raw, err := json.Marshal(map[string]any{"prompt": "a cat"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/images/generate", bytes.NewReader(raw))
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("X-Locale", "es")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if body := decodeBody(t, rec); body["message"] != "créditos insuficientes" {
		t.Fatalf("message = %v, want Spanish copy", body["message"])
	}
}
