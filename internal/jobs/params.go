package jobs

import (
	"fmt"
	"net/url"
	"strings"

	"server/internal/domain"
)

// DefaultMixPrompt is used when a mix request carries no instruction.
const DefaultMixPrompt = "Blend these images together into one cohesive composition"

// DefaultGuidanceScale is applied to edits without an explicit override.
const DefaultGuidanceScale = 7.5

// GenerateParams describes a text-to-image request.
type GenerateParams struct {
	OwnerID        string
	Prompt         string
	NegativePrompt string
	Quality        string // fast | balanced | high
	Seed           *int
	AspectRatio    string
}

func (p *GenerateParams) validate() error {
	if err := requireOwner(p.OwnerID); err != nil {
		return err
	}
	if strings.TrimSpace(p.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", domain.ErrValidation)
	}
	switch p.Quality {
	case "", "fast", "balanced", "high":
	default:
		return fmt.Errorf("%w: unsupported quality %q", domain.ErrValidation, p.Quality)
	}
	if p.Quality == "" {
		p.Quality = "balanced"
	}
	return nil
}

// MixParams describes a multi-image blend request.
type MixParams struct {
	OwnerID        string
	InputURLs      []string
	Prompt         string
	NegativePrompt string
	Seed           *int
}

func (p *MixParams) validate() error {
	if err := requireOwner(p.OwnerID); err != nil {
		return err
	}
	if len(p.InputURLs) < 2 {
		return fmt.Errorf("%w: mix requires at least two input images", domain.ErrValidation)
	}
	for _, u := range p.InputURLs {
		if err := requireAbsoluteURL(u); err != nil {
			return err
		}
	}
	if strings.TrimSpace(p.Prompt) == "" {
		p.Prompt = DefaultMixPrompt
	}
	return nil
}

// RemoveBackgroundParams describes a background-removal request.
type RemoveBackgroundParams struct {
	OwnerID       string
	InputURL      string
	PreserveAlpha bool
}

func (p *RemoveBackgroundParams) validate() error {
	if err := requireOwner(p.OwnerID); err != nil {
		return err
	}
	return requireAbsoluteURL(p.InputURL)
}

// UpscaleParams describes an upscale request. Width and height, when known,
// pick the closest supported aspect-ratio bucket.
type UpscaleParams struct {
	OwnerID     string
	InputURL    string
	Scale       int // 2 or 4
	FaceEnhance bool
	Width       int
	Height      int
}

func (p *UpscaleParams) validate() error {
	if err := requireOwner(p.OwnerID); err != nil {
		return err
	}
	if err := requireAbsoluteURL(p.InputURL); err != nil {
		return err
	}
	if p.Scale != 2 && p.Scale != 4 {
		return fmt.Errorf("%w: scale must be 2 or 4", domain.ErrValidation)
	}
	return nil
}

// RestoreParams describes a photo-restoration request. SafetyTolerance is the
// provider's tri-level content filter: 0 strict, 1 balanced, 2 permissive.
type RestoreParams struct {
	OwnerID         string
	InputURL        string
	SafetyTolerance int
}

func (p *RestoreParams) validate() error {
	if err := requireOwner(p.OwnerID); err != nil {
		return err
	}
	if err := requireAbsoluteURL(p.InputURL); err != nil {
		return err
	}
	if p.SafetyTolerance < 0 || p.SafetyTolerance > 2 {
		return fmt.Errorf("%w: safety tolerance must be 0, 1 or 2", domain.ErrValidation)
	}
	return nil
}

// EditParams describes an instruction-guided edit.
type EditParams struct {
	OwnerID       string
	InputURL      string
	Prompt        string
	GuidanceScale float64
}

func (p *EditParams) validate() error {
	if err := requireOwner(p.OwnerID); err != nil {
		return err
	}
	if err := requireAbsoluteURL(p.InputURL); err != nil {
		return err
	}
	if strings.TrimSpace(p.Prompt) == "" {
		return fmt.Errorf("%w: instruction prompt is required", domain.ErrValidation)
	}
	if p.GuidanceScale == 0 {
		p.GuidanceScale = DefaultGuidanceScale
	}
	return nil
}

// AspectBucket maps source dimensions onto the small fixed set of buckets
// some providers require. Ratio at or above 1.2 is wide, at or below 0.8 is
// tall, anything between is square. Unknown dimensions default to square.
func AspectBucket(width, height int) string {
	if width <= 0 || height <= 0 {
		return "square"
	}
	ratio := float64(width) / float64(height)
	switch {
	case ratio >= 1.2:
		return "wide"
	case ratio <= 0.8:
		return "tall"
	default:
		return "square"
	}
}

func requireOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return fmt.Errorf("%w: owner id is required", domain.ErrValidation)
	}
	return nil
}

func requireAbsoluteURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q is not an absolute http(s) url", domain.ErrValidation, raw)
	}
	return nil
}
