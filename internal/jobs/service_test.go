package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"server/internal/domain"
	"server/internal/inference"
)

type fakeJobRepo struct {
	created   []*domain.Job
	completed map[string]completedCall
	failed    map[string]string
	createErr error
}

type completedCall struct {
	resultURL    string
	thumbnailURL string
	metadata     map[string]any
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{
		completed: map[string]completedCall{},
		failed:    map[string]string{},
	}
}

func (f *fakeJobRepo) CreatePending(_ context.Context, job *domain.Job) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	job.ID = "job-1"
	job.Status = domain.JobStatusPending
	f.created = append(f.created, job)
	return job.ID, nil
}

func (f *fakeJobRepo) MarkCompleted(_ context.Context, jobID, resultURL, thumbnailURL string, metadata map[string]any) error {
	f.completed[jobID] = completedCall{resultURL: resultURL, thumbnailURL: thumbnailURL, metadata: metadata}
	return nil
}

func (f *fakeJobRepo) MarkFailed(_ context.Context, jobID, message string) error {
	f.failed[jobID] = message
	return nil
}

func (f *fakeJobRepo) GetByID(context.Context, string) (*domain.Job, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeJobRepo) ListByOwner(context.Context, string, domain.JobQuery) ([]domain.Job, error) {
	return nil, nil
}

func (f *fakeJobRepo) DeleteByID(context.Context, string, string) error { return nil }

func (f *fakeJobRepo) SearchByPrompt(context.Context, string, string) ([]domain.Job, error) {
	return nil, nil
}

func (f *fakeJobRepo) ListRecent(context.Context, int) ([]domain.Job, error) { return nil, nil }

func (f *fakeJobRepo) StatsByOwner(context.Context, string) (*domain.JobStats, error) {
	return &domain.JobStats{}, nil
}

type fakeGateway struct {
	uploads []string
	url     string
	err     error
}

func (f *fakeGateway) UploadFromURL(_ context.Context, sourceURL, _, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.uploads = append(f.uploads, sourceURL)
	return f.url, nil
}

func (f *fakeGateway) UploadFromBase64(context.Context, string, string, string) (string, error) {
	return f.url, f.err
}

func (f *fakeGateway) Delete(context.Context, string) error { return nil }

type fakeInference struct {
	outputs []string
	err     error
	calls   int
}

func (f *fakeInference) answer() ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.outputs, nil
}

func (f *fakeInference) Generate(context.Context, inference.GenerateParams) ([]string, error) {
	return f.answer()
}

func (f *fakeInference) Mix(context.Context, inference.MixParams) ([]string, error) {
	return f.answer()
}

func (f *fakeInference) RemoveBackground(context.Context, string, bool) ([]string, error) {
	return f.answer()
}

func (f *fakeInference) Upscale(context.Context, inference.UpscaleParams) ([]string, error) {
	return f.answer()
}

func (f *fakeInference) Restore(context.Context, string, int) ([]string, error) {
	return f.answer()
}

func (f *fakeInference) Edit(context.Context, inference.EditParams) ([]string, error) {
	return f.answer()
}

type fakeUserRepo struct {
	credits     map[string]int
	tiers       map[string]domain.UserTier
	spendCalls  int
	initCalls   int
	initialized map[string]bool
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		credits:     map[string]int{},
		tiers:       map[string]domain.UserTier{},
		initialized: map[string]bool{},
	}
}

func (f *fakeUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	if !f.initialized[id] {
		return nil, domain.ErrNotFound
	}
	return &domain.User{ID: id, Credits: f.credits[id], Tier: f.tiers[id]}, nil
}

func (f *fakeUserRepo) InitCredits(_ context.Context, id string) (*domain.User, error) {
	f.initCalls++
	if !f.initialized[id] {
		f.initialized[id] = true
		f.credits[id] = domain.DefaultCredits
	}
	return &domain.User{ID: id, Credits: f.credits[id]}, nil
}

func (f *fakeUserRepo) SpendCredits(_ context.Context, id string, amount int) (int, error) {
	f.spendCalls++
	if !f.initialized[id] {
		return 0, domain.ErrNotFound
	}
	if f.credits[id] < amount {
		return f.credits[id], domain.ErrNoCredits
	}
	f.credits[id] -= amount
	return f.credits[id], nil
}

func newTestService(repo *fakeJobRepo, users *fakeUserRepo, blobs *fakeGateway, infer *fakeInference) *Service {
	// A typed-nil *fakeUserRepo must become a nil interface, or the
	// charging guard would not fire.
	var userRepo domain.UserRepository
	if users != nil {
		userRepo = users
	}
	return NewService(repo, userRepo, blobs, infer, nil, zerolog.Nop())
}

func TestGenerateHappyPath(t *testing.T) {
	repo := newFakeJobRepo()
	blobs := &fakeGateway{url: "https://cdn.example.com/images/u1/generated/1-abc.jpg"}
	infer := &fakeInference{outputs: []string{"https://replicate.delivery/xyz/out.jpg"}}
	svc := newTestService(repo, nil, blobs, infer)

	result, err := svc.Generate(context.Background(), GenerateParams{OwnerID: "u1", Prompt: "a cat"})
	require.NoError(t, err)
	require.Equal(t, "job-1", result.JobID)
	require.Equal(t, blobs.url, result.ResultURL)

	require.Len(t, repo.created, 1)
	job := repo.created[0]
	require.Equal(t, "u1", job.OwnerID)
	require.Equal(t, domain.JobKindGenerated, job.Kind)
	require.Equal(t, "a cat", job.Prompt)

	done, ok := repo.completed["job-1"]
	require.True(t, ok, "job should be marked completed")
	require.Equal(t, blobs.url, done.resultURL)
	require.Empty(t, repo.failed)
	require.Equal(t, []string{"https://replicate.delivery/xyz/out.jpg"}, blobs.uploads)
}

func TestProviderFailureMarksJobFailed(t *testing.T) {
	repo := newFakeJobRepo()
	provider := &inference.ProviderError{StatusCode: 500, Message: "boom"}
	infer := &fakeInference{err: provider}
	svc := newTestService(repo, nil, &fakeGateway{url: "u"}, infer)

	_, err := svc.Generate(context.Background(), GenerateParams{OwnerID: "u1", Prompt: "a cat"})
	var got *inference.ProviderError
	require.ErrorAs(t, err, &got)

	require.Len(t, repo.created, 1, "exactly one record per invocation")
	require.Empty(t, repo.completed)
	require.Contains(t, repo.failed["job-1"], "boom")
}

func TestUploadFailureMarksJobFailed(t *testing.T) {
	repo := newFakeJobRepo()
	storeErr := errors.New("blob store: put rejected")
	blobs := &fakeGateway{err: storeErr}
	infer := &fakeInference{outputs: []string{"https://replicate.delivery/xyz/out.jpg"}}
	svc := newTestService(repo, nil, blobs, infer)

	_, err := svc.Edit(context.Background(), EditParams{
		OwnerID:  "u1",
		InputURL: "https://a.example/in.jpg",
		Prompt:   "make it snow",
	})
	require.ErrorIs(t, err, storeErr)
	require.Empty(t, repo.completed)
	require.Contains(t, repo.failed["job-1"], "put rejected")
}

func TestValidationFailureCreatesNoRecord(t *testing.T) {
	repo := newFakeJobRepo()
	infer := &fakeInference{}
	svc := newTestService(repo, nil, &fakeGateway{}, infer)

	_, err := svc.Mix(context.Background(), MixParams{
		OwnerID:   "u1",
		InputURLs: []string{"https://a.example/1.jpg", "not-a-url"},
	})
	require.ErrorIs(t, err, domain.ErrValidation)
	require.Empty(t, repo.created)
	require.Zero(t, infer.calls)
}

func TestNilUserRepositoryDisablesCharging(t *testing.T) {
	repo := newFakeJobRepo()
	blobs := &fakeGateway{url: "https://cdn.example.com/out.jpg"}
	infer := &fakeInference{outputs: []string{"https://replicate.delivery/xyz/out.jpg"}}
	svc := newTestService(repo, nil, blobs, infer)

	require.NoError(t, svc.chargeCredits(context.Background(), "u1"))

	result, err := svc.Generate(context.Background(), GenerateParams{OwnerID: "u1", Prompt: "a cat"})
	require.NoError(t, err)
	require.NotNil(t, result)
}

func TestChargeCreditsInitializesLazily(t *testing.T) {
	repo := newFakeJobRepo()
	users := newFakeUserRepo()
	blobs := &fakeGateway{url: "https://cdn.example.com/out.jpg"}
	infer := &fakeInference{outputs: []string{"https://replicate.delivery/xyz/out.jpg"}}
	svc := newTestService(repo, users, blobs, infer)

	_, err := svc.Generate(context.Background(), GenerateParams{OwnerID: "u1", Prompt: "a cat"})
	require.NoError(t, err)
	require.Equal(t, 1, users.initCalls)
	require.Equal(t, domain.DefaultCredits-1, users.credits["u1"])
}

func TestRunRefusesWithoutCredits(t *testing.T) {
	repo := newFakeJobRepo()
	users := newFakeUserRepo()
	users.initialized["u1"] = true
	users.credits["u1"] = 0
	infer := &fakeInference{}
	svc := newTestService(repo, users, &fakeGateway{}, infer)

	_, err := svc.Generate(context.Background(), GenerateParams{OwnerID: "u1", Prompt: "a cat"})
	require.ErrorIs(t, err, domain.ErrNoCredits)
	require.Empty(t, repo.created, "no record without credits")
	require.Zero(t, infer.calls)
}

func TestUploadSource(t *testing.T) {
	blobs := &fakeGateway{url: "https://cdn.example.com/images/u1/sources/1-abc.png"}
	svc := newTestService(newFakeJobRepo(), nil, blobs, &fakeInference{})

	url, err := svc.UploadSource(context.Background(), "u1", "data:image/png;base64,AAAA", "image/png")
	require.NoError(t, err)
	require.Equal(t, blobs.url, url)

	_, err = svc.UploadSource(context.Background(), "u1", "  ", "image/png")
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.UploadSource(context.Background(), "", "AAAA", "image/png")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestPaidTierIsNotCharged(t *testing.T) {
	repo := newFakeJobRepo()
	users := newFakeUserRepo()
	users.initialized["u1"] = true
	users.tiers["u1"] = domain.UserTierPro
	users.credits["u1"] = 0
	blobs := &fakeGateway{url: "https://cdn.example.com/out.jpg"}
	infer := &fakeInference{outputs: []string{"https://replicate.delivery/xyz/out.jpg"}}
	svc := newTestService(repo, users, blobs, infer)

	_, err := svc.Generate(context.Background(), GenerateParams{OwnerID: "u1", Prompt: "a cat"})
	require.NoError(t, err)
	require.Zero(t, users.spendCalls)
}

func TestUpscaleRecordsAspectBucket(t *testing.T) {
	repo := newFakeJobRepo()
	blobs := &fakeGateway{url: "https://cdn.example.com/out.jpg"}
	infer := &fakeInference{outputs: []string{"https://replicate.delivery/xyz/out.jpg"}}
	svc := newTestService(repo, nil, blobs, infer)

	_, err := svc.Upscale(context.Background(), UpscaleParams{
		OwnerID:  "u1",
		InputURL: "https://a.example/in.jpg",
		Scale:    2,
		Width:    1920,
		Height:   1080,
	})
	require.NoError(t, err)

	done := repo.completed["job-1"]
	require.Equal(t, "wide", done.metadata["aspectBucket"])
	require.Equal(t, 2, done.metadata["scale"])
	require.Equal(t, "https://a.example/in.jpg", done.metadata["originalImageUrl"])
}
