package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"server/internal/blobstore"
	"server/internal/cache"
	"server/internal/domain"
	"server/internal/inference"
)

// InferenceClient is the provider surface the orchestrator depends on. Every
// method returns resolved output URLs or a typed failure; polling is handled
// inside the client.
type InferenceClient interface {
	Generate(ctx context.Context, p inference.GenerateParams) ([]string, error)
	Mix(ctx context.Context, p inference.MixParams) ([]string, error)
	RemoveBackground(ctx context.Context, imageURL string, preserveAlpha bool) ([]string, error)
	Upscale(ctx context.Context, p inference.UpscaleParams) ([]string, error)
	Restore(ctx context.Context, imageURL string, safetyTolerance int) ([]string, error)
	Edit(ctx context.Context, p inference.EditParams) ([]string, error)
}

// Result is the success payload of a capability invocation.
type Result struct {
	JobID     string `json:"job_id"`
	ResultURL string `json:"result_url"`
}

// Service drives the job lifecycle for every capability: create a pending
// record, invoke inference, migrate the output into durable storage, record
// the terminal state. Failures after record creation are written to the job
// and re-raised; callers never observe a dangling pending record.
type Service struct {
	repo   domain.JobRepository
	users  domain.UserRepository
	blobs  blobstore.Gateway
	infer  InferenceClient
	status *cache.JobStatusCache
	logger zerolog.Logger
}

// NewService wires the orchestrator. The status cache may be nil; a nil users
// repository disables credit charging. Disabling means a nil interface value:
// a typed nil pointer still satisfies the interface and will be called.
func NewService(repo domain.JobRepository, users domain.UserRepository, blobs blobstore.Gateway, infer InferenceClient, status *cache.JobStatusCache, logger zerolog.Logger) *Service {
	return &Service{repo: repo, users: users, blobs: blobs, infer: infer, status: status, logger: logger}
}

// creditCost is charged once per capability invocation.
const creditCost = 1

// capability describes one invocation of the shared pipeline: the record to
// create, the inference call to make and the metadata to persist on success.
type capability struct {
	kind        domain.JobKind
	prompt      string
	negative    string
	model       string
	sourceURL   string
	ext         string
	contentType string
	metadata    map[string]any
	invoke      func(ctx context.Context) ([]string, error)
}

// Generate creates an image from a prompt.
func (s *Service) Generate(ctx context.Context, p GenerateParams) (*Result, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	model := inference.GenerationModelForTier(p.Quality)
	metadata := map[string]any{"width": 1024, "height": 1024}
	if p.Seed != nil {
		metadata["seed"] = *p.Seed
	}
	return s.run(ctx, p.OwnerID, capability{
		kind:        domain.JobKindGenerated,
		prompt:      p.Prompt,
		negative:    p.NegativePrompt,
		model:       inference.DisplayName(model),
		ext:         "jpg",
		contentType: "image/jpeg",
		metadata:    metadata,
		invoke: func(ctx context.Context) ([]string, error) {
			return s.infer.Generate(ctx, inference.GenerateParams{
				Prompt:         p.Prompt,
				NegativePrompt: p.NegativePrompt,
				Seed:           p.Seed,
				AspectRatio:    p.AspectRatio,
				Tier:           p.Quality,
			})
		},
	})
}

// Mix blends two or more input images.
func (s *Service) Mix(ctx context.Context, p MixParams) (*Result, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	metadata := map[string]any{"sourceImageUrls": p.InputURLs}
	if p.Seed != nil {
		metadata["seed"] = *p.Seed
	}
	return s.run(ctx, p.OwnerID, capability{
		kind:        domain.JobKindMixed,
		prompt:      p.Prompt,
		negative:    p.NegativePrompt,
		model:       inference.DisplayName(inference.ModelNanoBanana),
		sourceURL:   p.InputURLs[0],
		ext:         "jpg",
		contentType: "image/jpeg",
		metadata:    metadata,
		invoke: func(ctx context.Context) ([]string, error) {
			return s.infer.Mix(ctx, inference.MixParams{
				Prompt:         p.Prompt,
				NegativePrompt: p.NegativePrompt,
				Seed:           p.Seed,
				InputURLs:      p.InputURLs,
			})
		},
	})
}

// RemoveBackground strips the background from one image.
func (s *Service) RemoveBackground(ctx context.Context, p RemoveBackgroundParams) (*Result, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return s.run(ctx, p.OwnerID, capability{
		kind:        domain.JobKindBGRemoved,
		prompt:      "Background removed",
		model:       inference.DisplayName(inference.ModelRembg),
		sourceURL:   p.InputURL,
		ext:         "png",
		contentType: "image/png",
		metadata:    map[string]any{"originalImageUrl": p.InputURL},
		invoke: func(ctx context.Context) ([]string, error) {
			return s.infer.RemoveBackground(ctx, p.InputURL, p.PreserveAlpha)
		},
	})
}

// Upscale enlarges one image by a fixed factor.
func (s *Service) Upscale(ctx context.Context, p UpscaleParams) (*Result, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	model := inference.ModelESRGAN
	if p.FaceEnhance {
		model = inference.ModelGFPGAN
	}
	metadata := map[string]any{
		"originalImageUrl": p.InputURL,
		"scale":            p.Scale,
		"faceEnhance":      p.FaceEnhance,
		"aspectBucket":     AspectBucket(p.Width, p.Height),
	}
	if p.Width > 0 && p.Height > 0 {
		metadata["width"] = p.Width
		metadata["height"] = p.Height
	}
	return s.run(ctx, p.OwnerID, capability{
		kind:        domain.JobKindUpscaled,
		prompt:      fmt.Sprintf("Upscaled %dx", p.Scale),
		model:       inference.DisplayName(model),
		sourceURL:   p.InputURL,
		ext:         "jpg",
		contentType: "image/jpeg",
		metadata:    metadata,
		invoke: func(ctx context.Context) ([]string, error) {
			return s.infer.Upscale(ctx, inference.UpscaleParams{
				ImageURL:    p.InputURL,
				Scale:       p.Scale,
				FaceEnhance: p.FaceEnhance,
			})
		},
	})
}

// Restore repairs an old or damaged photo.
func (s *Service) Restore(ctx context.Context, p RestoreParams) (*Result, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return s.run(ctx, p.OwnerID, capability{
		kind:        domain.JobKindRestored,
		prompt:      "Photo restored",
		model:       inference.DisplayName(inference.ModelFluxRestore),
		sourceURL:   p.InputURL,
		ext:         "jpg",
		contentType: "image/jpeg",
		metadata: map[string]any{
			"originalImageUrl": p.InputURL,
			"safetyTolerance":  p.SafetyTolerance,
		},
		invoke: func(ctx context.Context) ([]string, error) {
			return s.infer.Restore(ctx, p.InputURL, p.SafetyTolerance)
		},
	})
}

// Edit applies an instruction prompt to one image.
func (s *Service) Edit(ctx context.Context, p EditParams) (*Result, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return s.run(ctx, p.OwnerID, capability{
		kind:        domain.JobKindEdited,
		prompt:      p.Prompt,
		model:       inference.DisplayName(inference.ModelInstructPix2Pix),
		sourceURL:   p.InputURL,
		ext:         "jpg",
		contentType: "image/jpeg",
		metadata: map[string]any{
			"originalImageUrl": p.InputURL,
			"guidanceScale":    p.GuidanceScale,
		},
		invoke: func(ctx context.Context) ([]string, error) {
			return s.infer.Edit(ctx, inference.EditParams{
				ImageURL:      p.InputURL,
				Prompt:        p.Prompt,
				GuidanceScale: p.GuidanceScale,
			})
		},
	})
}

// UploadSource copies a caller-provided inline image into durable storage so
// later capability calls can reference it by URL. No job record is involved.
func (s *Service) UploadSource(ctx context.Context, ownerID, payload, contentType string) (string, error) {
	if err := requireOwner(ownerID); err != nil {
		return "", err
	}
	if strings.TrimSpace(payload) == "" {
		return "", fmt.Errorf("%w: image payload is required", domain.ErrValidation)
	}
	if contentType == "" {
		contentType = "image/png"
	}
	ext := "png"
	if strings.Contains(contentType, "jpeg") || strings.Contains(contentType, "jpg") {
		ext = "jpg"
	}
	key := blobstore.ObjectKey(ownerID, "sources", ext)
	url, err := s.blobs.UploadFromBase64(ctx, payload, key, contentType)
	if err != nil {
		return "", err
	}
	s.logger.Info().Str("owner_id", ownerID).Str("key", key).Msg("jobs: source uploaded")
	return url, nil
}

// run is the shared four-step state machine. Exactly one job record is
// created per invocation; any failure after creation marks it failed before
// the error is returned.
func (s *Service) run(ctx context.Context, ownerID string, op capability) (*Result, error) {
	if err := s.chargeCredits(ctx, ownerID); err != nil {
		return nil, err
	}

	jobID, err := s.repo.CreatePending(ctx, &domain.Job{
		OwnerID:        ownerID,
		Kind:           op.kind,
		Prompt:         op.prompt,
		NegativePrompt: op.negative,
		Model:          op.model,
		SourceURL:      op.sourceURL,
	})
	if err != nil {
		return nil, fmt.Errorf("create pending job: %w", err)
	}
	s.cacheStatus(ctx, jobID, domain.JobStatusProcessing)

	outputs, err := op.invoke(ctx)
	if err != nil {
		return nil, s.fail(ctx, jobID, op.kind, err)
	}

	key := blobstore.ObjectKey(ownerID, string(op.kind), op.ext)
	durableURL, err := s.blobs.UploadFromURL(ctx, outputs[0], key, op.contentType)
	if err != nil {
		return nil, s.fail(ctx, jobID, op.kind, err)
	}

	if err := s.repo.MarkCompleted(ctx, jobID, durableURL, "", op.metadata); err != nil {
		return nil, s.fail(ctx, jobID, op.kind, err)
	}
	s.cacheStatus(ctx, jobID, domain.JobStatusCompleted)

	s.logger.Info().
		Str("job_id", jobID).
		Str("kind", string(op.kind)).
		Str("model", op.model).
		Msg("jobs: completed")
	return &Result{JobID: jobID, ResultURL: durableURL}, nil
}

// fail records the terminal failure on the job and returns the original
// error. Marking failure is itself best effort; a bookkeeping error is logged
// but never masks the cause.
func (s *Service) fail(ctx context.Context, jobID string, kind domain.JobKind, cause error) error {
	if markErr := s.repo.MarkFailed(ctx, jobID, cause.Error()); markErr != nil {
		s.logger.Error().Err(markErr).
			Str("job_id", jobID).
			Msg("jobs: mark failed did not stick")
	}
	s.cacheStatus(ctx, jobID, domain.JobStatusFailed)
	s.logger.Error().Err(cause).
		Str("job_id", jobID).
		Str("kind", string(kind)).
		Msg("jobs: failed")
	return cause
}

// chargeCredits deducts the invocation cost, granting the starting balance
// first for accounts that never initialized one. Paid tiers are not metered.
func (s *Service) chargeCredits(ctx context.Context, ownerID string) error {
	if s.users == nil {
		return nil
	}
	user, err := s.users.GetByID(ctx, ownerID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("load user: %w", err)
	}
	if user != nil && !user.IsFree() {
		return nil
	}
	remaining, err := s.users.SpendCredits(ctx, ownerID, creditCost)
	if errors.Is(err, domain.ErrNotFound) {
		if _, initErr := s.users.InitCredits(ctx, ownerID); initErr != nil {
			return fmt.Errorf("init credits: %w", initErr)
		}
		remaining, err = s.users.SpendCredits(ctx, ownerID, creditCost)
	}
	if err != nil {
		return err
	}
	s.logger.Debug().Str("owner_id", ownerID).Int("remaining", remaining).Msg("jobs: credits charged")
	return nil
}

func (s *Service) cacheStatus(ctx context.Context, jobID string, status domain.JobStatus) {
	if err := s.status.SetStatus(ctx, jobID, status); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("jobs: status cache write failed")
	}
}
