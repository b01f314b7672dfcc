package handlers

import (
	"encoding/json"
	"net/http"

	"server/internal/jobs"
)

type generateRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
	Quality        string `json:"quality"`
	Seed           *int   `json:"seed"`
	AspectRatio    string `json:"aspect_ratio"`
}

// Generate runs the text-to-image capability.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !a.decode(w, r, &req) {
		return
	}
	result, err := a.Jobs.Generate(r.Context(), jobs.GenerateParams{
		OwnerID:        a.currentUserID(r),
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Quality:        req.Quality,
		Seed:           req.Seed,
		AspectRatio:    req.AspectRatio,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, result)
}

type mixRequest struct {
	InputURLs      []string `json:"input_urls"`
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt"`
	Seed           *int     `json:"seed"`
}

// Mix blends two or more input images.
func (a *App) Mix(w http.ResponseWriter, r *http.Request) {
	var req mixRequest
	if !a.decode(w, r, &req) {
		return
	}
	result, err := a.Jobs.Mix(r.Context(), jobs.MixParams{
		OwnerID:        a.currentUserID(r),
		InputURLs:      req.InputURLs,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Seed:           req.Seed,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, result)
}

type removeBackgroundRequest struct {
	InputURL      string `json:"input_url"`
	PreserveAlpha bool   `json:"preserve_alpha"`
}

// RemoveBackground strips the background from one image.
func (a *App) RemoveBackground(w http.ResponseWriter, r *http.Request) {
	var req removeBackgroundRequest
	if !a.decode(w, r, &req) {
		return
	}
	result, err := a.Jobs.RemoveBackground(r.Context(), jobs.RemoveBackgroundParams{
		OwnerID:       a.currentUserID(r),
		InputURL:      req.InputURL,
		PreserveAlpha: req.PreserveAlpha,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, result)
}

type upscaleRequest struct {
	InputURL    string `json:"input_url"`
	Scale       int    `json:"scale"`
	FaceEnhance bool   `json:"face_enhance"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// Upscale enlarges one image by 2x or 4x.
func (a *App) Upscale(w http.ResponseWriter, r *http.Request) {
	var req upscaleRequest
	if !a.decode(w, r, &req) {
		return
	}
	result, err := a.Jobs.Upscale(r.Context(), jobs.UpscaleParams{
		OwnerID:     a.currentUserID(r),
		InputURL:    req.InputURL,
		Scale:       req.Scale,
		FaceEnhance: req.FaceEnhance,
		Width:       req.Width,
		Height:      req.Height,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, result)
}

type restoreRequest struct {
	InputURL        string `json:"input_url"`
	SafetyTolerance int    `json:"safety_tolerance"`
}

// Restore repairs an old or damaged photo.
func (a *App) Restore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if !a.decode(w, r, &req) {
		return
	}
	result, err := a.Jobs.Restore(r.Context(), jobs.RestoreParams{
		OwnerID:         a.currentUserID(r),
		InputURL:        req.InputURL,
		SafetyTolerance: req.SafetyTolerance,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, result)
}

type editRequest struct {
	InputURL      string  `json:"input_url"`
	Prompt        string  `json:"prompt"`
	GuidanceScale float64 `json:"guidance_scale"`
}

// Edit applies an instruction prompt to one image.
func (a *App) Edit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if !a.decode(w, r, &req) {
		return
	}
	result, err := a.Jobs.Edit(r.Context(), jobs.EditParams{
		OwnerID:       a.currentUserID(r),
		InputURL:      req.InputURL,
		Prompt:        req.Prompt,
		GuidanceScale: req.GuidanceScale,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, result)
}

type uploadRequest struct {
	ImageBase64 string `json:"image_base64"`
	ContentType string `json:"content_type"`
}

// UploadSource stores an inline source photo and returns its durable URL so
// the client can pass it to the editing capabilities.
func (a *App) UploadSource(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if !a.decode(w, r, &req) {
		return
	}
	url, err := a.Jobs.UploadSource(r.Context(), a.currentUserID(r), req.ImageBase64, req.ContentType)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"url": url})
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return false
	}
	return true
}
