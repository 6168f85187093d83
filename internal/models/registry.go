// Package models manages ggml model files for the native whisper backend.
package models

// ModelInfo describes a downloadable ggml model.
type ModelInfo struct {
	ID       string
	Name     string
	Filename string
	URL      string
	Size     int64
}

// Registry lists the supported whisper.cpp models. Quantized variants are
// preferred for CPU inference.
var Registry = []ModelInfo{
	{
		ID:       "tiny-q5",
		Name:     "Tiny Q5",
		Filename: "ggml-tiny-q5_1.bin",
		URL:      "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-tiny-q5_1.bin",
		Size:     32 * 1024 * 1024,
	},
	{
		ID:       "base-q5",
		Name:     "Base Q5",
		Filename: "ggml-base-q5_1.bin",
		URL:      "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-base-q5_1.bin",
		Size:     60 * 1024 * 1024,
	},
	{
		ID:       "small-q5",
		Name:     "Small Q5",
		Filename: "ggml-small-q5_1.bin",
		URL:      "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-small-q5_1.bin",
		Size:     190 * 1024 * 1024,
	},
	{
		ID:       "tiny",
		Name:     "Tiny",
		Filename: "ggml-tiny.bin",
		URL:      "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-tiny.bin",
		Size:     75 * 1024 * 1024,
	},
	{
		ID:       "base",
		Name:     "Base",
		Filename: "ggml-base.bin",
		URL:      "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-base.bin",
		Size:     142 * 1024 * 1024,
	},
	{
		ID:       "small",
		Name:     "Small",
		Filename: "ggml-small.bin",
		URL:      "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-small.bin",
		Size:     466 * 1024 * 1024,
	},
	{
		ID:       "large-v3-turbo-q5",
		Name:     "Large v3 Turbo Q5",
		Filename: "ggml-large-v3-turbo-q5_0.bin",
		URL:      "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-large-v3-turbo-q5_0.bin",
		Size:     574 * 1024 * 1024,
	},
}

// Lookup returns the registry entry for id.
func Lookup(id string) (ModelInfo, bool) {
	for _, m := range Registry {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}
