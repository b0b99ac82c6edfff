package generation

import "weltverbinder/internal/domain"

// Preset is a provider model plus the input payload it expects.
type Preset struct {
	Model string
	input func(prompt string) map[string]any
}

// Input builds the model payload around prompt.
func (p Preset) Input(prompt string) map[string]any {
	return p.input(prompt)
}

var presets = map[domain.VideoModel]Preset{
	domain.VideoModelSchnell: {
		Model: "wavespeedai/wan-2.1-t2v-480p",
		input: func(prompt string) map[string]any {
			return map[string]any{
				"prompt":      prompt,
				"guide_scale": 5,
				"max_area":    "832x480",
				"num_frames":  81,
				"shift":       3,
				"steps":       4,
			}
		},
	},
	domain.VideoModelQuality: {
		Model: "kwaivgi/kling-v2.5-turbo-pro",
		input: func(prompt string) map[string]any {
			return map[string]any{
				"prompt":          prompt,
				"duration":        5,
				"aspect_ratio":    "16:9",
				"negative_prompt": "blur, distort, low quality, watermark, text",
				"cfg_scale":       0.5,
			}
		},
	},
}

// PresetFor returns the preset of model, defaulting to the fast one.
func PresetFor(model domain.VideoModel) Preset {
	if p, ok := presets[domain.NormalizeVideoModel(string(model))]; ok {
		return p
	}
	return presets[domain.VideoModelSchnell]
}
