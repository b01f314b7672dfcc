package inference

// Model identifiers are opaque routing keys. Entries without a version pin are
// invoked through the synchronous model endpoint; pinned entries go through
// the prediction-create-then-poll path.
const (
	ModelNanoBanana = "google/nano-banana"
	ModelSDXL       = "stability-ai/sdxl:39ed52f2a78e934b3ba6e2a89f5b1c712de7dfea535525255b1aa35c5565e08b"
	ModelSD15       = "stability-ai/stable-diffusion:ac732df83cea7fff18b8472768c88ad041fa750ff7682a21affe81863cbe77e4"

	ModelRembg = "cjwbw/rembg:fb8af171cfa1616ddcf1242c093f9c46bcada5ad4cf6f2fbe8b81b330ec5c003"

	ModelESRGAN = "nightmareai/real-esrgan:f121d640bd286e1fdc67f9799164c1d5be36ff74576ee11c803ae5b665dd46aa"
	ModelGFPGAN = "tencentarc/gfpgan:0fbacf7afc6c144e5be9767cff80f25aff23e52b0708f17e20f9879b2f21516c"

	ModelInstructPix2Pix = "timothybrooks/instruct-pix2pix:30c1d0b916a6f8efce20493f5d61ee27491ab2a60437c13c588468b9810ec23f"

	ModelFluxRestore = "flux-kontext-apps/restore-image"
)

// GenerationModelForTier routes a quality tier onto a model. A pure catalog
// lookup; the invocation logic is identical for every tier.
func GenerationModelForTier(tier string) string {
	switch tier {
	case "fast":
		return ModelNanoBanana
	case "high":
		return ModelSDXL
	default:
		return ModelNanoBanana
	}
}

// DisplayName strips the version pin for persistence in job records.
func DisplayName(model string) string {
	for i := 0; i < len(model); i++ {
		if model[i] == ':' {
			return model[:i]
		}
	}
	return model
}

func rembgParams(preserveAlpha bool) map[string]any {
	return map[string]any{
		"model":                              "u2net",
		"return_mask":                        false,
		"alpha_matting":                      preserveAlpha,
		"alpha_matting_foreground_threshold": 240,
		"alpha_matting_background_threshold": 50,
		"alpha_matting_erode_size":           10,
	}
}

func pix2pixParams() map[string]any {
	return map[string]any{
		"num_outputs":          1,
		"num_inference_steps":  25,
		"guidance_scale":       7.5,
		"image_guidance_scale": 1.5,
	}
}
