package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Options configures the prediction client.
type Options struct {
	BaseURL         string
	APIKey          string
	HTTPClient      *http.Client
	PollInterval    time.Duration
	MaxPollAttempts int
}

// Client talks to a Replicate-compatible prediction API. Unpinned models are
// invoked synchronously (the request blocks until the provider finishes);
// version-pinned models return a prediction handle that is resolved through a
// bounded poll loop. Callers only ever see resolved output URLs or a typed
// failure.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	token        string
	pollInterval time.Duration
	maxAttempts  int
}

// NewClient constructs a Client. The HTTP client timeout doubles as the
// defensive ceiling for the synchronous-wait path.
func NewClient(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.replicate.com/v1"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	attempts := opts.MaxPollAttempts
	if attempts <= 0 {
		attempts = 60
	}
	return &Client{
		httpClient:   client,
		baseURL:      base,
		token:        strings.TrimSpace(opts.APIKey),
		pollInterval: interval,
		maxAttempts:  attempts,
	}
}

// GenerateParams describes a text-to-image request.
type GenerateParams struct {
	Prompt         string
	NegativePrompt string
	Seed           *int
	AspectRatio    string
	Tier           string // fast | balanced | high
}

// Generate produces images from a prompt. The tier routes the model choice.
func (c *Client) Generate(ctx context.Context, p GenerateParams) ([]string, error) {
	model := GenerationModelForTier(p.Tier)
	input := map[string]any{
		"prompt":        p.Prompt,
		"image_input":   []string{},
		"output_format": "jpg",
	}
	if p.NegativePrompt != "" {
		input["negative_prompt"] = p.NegativePrompt
	}
	if p.Seed != nil {
		input["seed"] = *p.Seed
	}
	if p.AspectRatio != "" {
		input["aspect_ratio"] = p.AspectRatio
	}
	return c.run(ctx, model, input)
}

// MixParams describes a multi-image blend request.
type MixParams struct {
	Prompt         string
	NegativePrompt string
	Seed           *int
	InputURLs      []string
}

// Mix blends two or more input images guided by an instruction prompt.
func (c *Client) Mix(ctx context.Context, p MixParams) ([]string, error) {
	if err := validateURLs(p.InputURLs...); err != nil {
		return nil, err
	}
	input := map[string]any{
		"prompt":        p.Prompt,
		"image_input":   p.InputURLs,
		"output_format": "jpg",
	}
	if p.NegativePrompt != "" {
		input["negative_prompt"] = p.NegativePrompt
	}
	if p.Seed != nil {
		input["seed"] = *p.Seed
	}
	return c.run(ctx, ModelNanoBanana, input)
}

// RemoveBackground strips the background from one input image.
func (c *Client) RemoveBackground(ctx context.Context, imageURL string, preserveAlpha bool) ([]string, error) {
	if err := validateURLs(imageURL); err != nil {
		return nil, err
	}
	input := rembgParams(preserveAlpha)
	input["image"] = imageURL
	return c.run(ctx, ModelRembg, input)
}

// UpscaleParams describes an upscale request.
type UpscaleParams struct {
	ImageURL    string
	Scale       int // 2 or 4
	FaceEnhance bool
}

// Upscale enlarges one input image. Face enhancement routes to a dedicated model.
func (c *Client) Upscale(ctx context.Context, p UpscaleParams) ([]string, error) {
	if err := validateURLs(p.ImageURL); err != nil {
		return nil, err
	}
	model := ModelESRGAN
	input := map[string]any{
		"image":        p.ImageURL,
		"scale":        p.Scale,
		"face_enhance": false,
	}
	if p.FaceEnhance {
		model = ModelGFPGAN
		input = map[string]any{
			"img":     p.ImageURL,
			"image":   p.ImageURL,
			"scale":   p.Scale,
			"version": "v1.4",
		}
	}
	return c.run(ctx, model, input)
}

// Restore repairs an old or damaged photo. The safety tolerance is forwarded
// verbatim to the provider.
func (c *Client) Restore(ctx context.Context, imageURL string, safetyTolerance int) ([]string, error) {
	if err := validateURLs(imageURL); err != nil {
		return nil, err
	}
	input := map[string]any{
		"input_image":      imageURL,
		"safety_tolerance": safetyTolerance,
		"output_format":    "jpg",
	}
	return c.run(ctx, ModelFluxRestore, input)
}

// EditParams describes an instruction-guided edit.
type EditParams struct {
	ImageURL      string
	Prompt        string
	GuidanceScale float64
}

// Edit applies an instruction prompt to one input image.
func (c *Client) Edit(ctx context.Context, p EditParams) ([]string, error) {
	if err := validateURLs(p.ImageURL); err != nil {
		return nil, err
	}
	input := pix2pixParams()
	input["image"] = p.ImageURL
	input["prompt"] = p.Prompt
	if p.GuidanceScale > 0 {
		input["guidance_scale"] = p.GuidanceScale
	}
	return c.run(ctx, ModelInstructPix2Pix, input)
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

// run dispatches the request through the mode appropriate for the model and
// resolves the prediction to its output URLs.
func (c *Client) run(ctx context.Context, model string, input map[string]any) ([]string, error) {
	if c.token == "" {
		return nil, ErrMissingAPIKey
	}

	var (
		pred *prediction
		err  error
	)
	if _, version, pinned := strings.Cut(model, ":"); pinned {
		pred, err = c.createPrediction(ctx, version, input)
	} else {
		pred, err = c.runSync(ctx, model, input)
	}
	if err != nil {
		return nil, err
	}

	if !terminalStatus(pred.Status) {
		pred, err = c.waitForPrediction(ctx, pred.ID)
		if err != nil {
			return nil, err
		}
	}
	if pred.Status != "succeeded" {
		msg := pred.Error
		if msg == "" {
			msg = "prediction " + pred.Status
		}
		return nil, &ProviderError{Message: msg}
	}
	return outputURLs(pred.Output)
}

// runSync posts to the model endpoint with Prefer: wait so the provider blocks
// until the prediction finishes (bounded by its own request timeout).
func (c *Client) runSync(ctx context.Context, model string, input map[string]any) (*prediction, error) {
	endpoint := fmt.Sprintf("%s/models/%s/predictions", c.baseURL, model)
	return c.post(ctx, endpoint, map[string]any{"input": input}, true)
}

// createPrediction starts an asynchronous prediction for a pinned version.
func (c *Client) createPrediction(ctx context.Context, version string, input map[string]any) (*prediction, error) {
	endpoint := c.baseURL + "/predictions"
	return c.post(ctx, endpoint, map[string]any{"version": version, "input": input}, false)
}

// waitForPrediction polls at a fixed interval until a terminal state or the
// attempt budget runs out.
func (c *Client) waitForPrediction(ctx context.Context, id string) (*prediction, error) {
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		pred, err := c.get(ctx, c.baseURL+"/predictions/"+id)
		if err != nil {
			return nil, err
		}
		if terminalStatus(pred.Status) {
			return pred, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrTimeout, c.maxAttempts)
}

func (c *Client) post(ctx context.Context, endpoint string, payload map[string]any, wait bool) (*prediction, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("inference: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("inference: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	if wait {
		req.Header.Set("Prefer", "wait")
	}
	return c.do(req)
}

func (c *Client) get(ctx context.Context, endpoint string) (*prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("inference: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*prediction, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var detail struct {
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&detail)
		msg := detail.Detail
		if msg == "" {
			msg = resp.Status
		}
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: msg}
	}

	var pred prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return nil, fmt.Errorf("inference: decode response: %w", err)
	}
	return &pred, nil
}

func terminalStatus(status string) bool {
	switch status {
	case "succeeded", "failed", "canceled":
		return true
	}
	return false
}

// outputURLs normalizes the provider's array-or-scalar output shape into an
// ordered list of absolute URLs.
func outputURLs(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, ErrInvalidOutput
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if !isAbsoluteHTTPURL(single) {
			return nil, ErrInvalidOutput
		}
		return []string{single}, nil
	}

	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, ErrInvalidOutput
	}
	urls := make([]string, 0, len(many))
	for _, u := range many {
		if isAbsoluteHTTPURL(u) {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil, ErrInvalidOutput
	}
	return urls, nil
}

func validateURLs(urls ...string) error {
	for _, u := range urls {
		if !isAbsoluteHTTPURL(u) {
			return fmt.Errorf("%w: %q is not an absolute http(s) url", ErrInvalidInput, u)
		}
	}
	return nil
}

func isAbsoluteHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
