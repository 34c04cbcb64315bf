package models

import "sort"

// Option describes one supported model size and the artifacts that must be
// present in its cache directory.
type Option struct {
	Size      string
	Repo      string
	Files     []string
	SizeLabel string
}

// DirName is the cache sub-directory for the option.
func (o Option) DirName() string {
	return "faster-whisper-" + o.Size
}

var (
	baseFiles    = []string{"config.json", "model.bin", "tokenizer.json", "vocabulary.txt"}
	largeV3Files = []string{"config.json", "model.bin", "tokenizer.json", "vocabulary.json", "preprocessor_config.json"}
	distilFiles  = []string{"config.json", "model.bin", "tokenizer.json", "vocabulary.json"}
)

var catalog = []Option{
	{Size: "tiny.en", Repo: "Systran/faster-whisper-tiny.en", Files: baseFiles, SizeLabel: "~75 MB"},
	{Size: "tiny", Repo: "Systran/faster-whisper-tiny", Files: baseFiles, SizeLabel: "~75 MB"},
	{Size: "base.en", Repo: "Systran/faster-whisper-base.en", Files: baseFiles, SizeLabel: "~145 MB"},
	{Size: "base", Repo: "Systran/faster-whisper-base", Files: baseFiles, SizeLabel: "~145 MB"},
	{Size: "small.en", Repo: "Systran/faster-whisper-small.en", Files: baseFiles, SizeLabel: "~485 MB"},
	{Size: "small", Repo: "Systran/faster-whisper-small", Files: baseFiles, SizeLabel: "~485 MB"},
	{Size: "medium.en", Repo: "Systran/faster-whisper-medium.en", Files: baseFiles, SizeLabel: "~1.5 GB"},
	{Size: "medium", Repo: "Systran/faster-whisper-medium", Files: baseFiles, SizeLabel: "~1.5 GB"},
	{Size: "large-v1", Repo: "Systran/faster-whisper-large-v1", Files: baseFiles, SizeLabel: "~3.1 GB"},
	{Size: "large-v2", Repo: "Systran/faster-whisper-large-v2", Files: baseFiles, SizeLabel: "~3.1 GB"},
	{Size: "large-v3", Repo: "Systran/faster-whisper-large-v3", Files: largeV3Files, SizeLabel: "~3.1 GB"},
	{Size: "large", Repo: "Systran/faster-whisper-large-v3", Files: largeV3Files, SizeLabel: "~3.1 GB"},
	{Size: "large-v3-turbo", Repo: "mobiuslabsgmbh/faster-whisper-large-v3-turbo", Files: largeV3Files, SizeLabel: "~1.6 GB"},
	{Size: "turbo", Repo: "mobiuslabsgmbh/faster-whisper-large-v3-turbo", Files: largeV3Files, SizeLabel: "~1.6 GB"},
	{Size: "distil-small.en", Repo: "Systran/faster-distil-whisper-small.en", Files: distilFiles, SizeLabel: "~335 MB"},
	{Size: "distil-medium.en", Repo: "Systran/faster-distil-whisper-medium.en", Files: distilFiles, SizeLabel: "~790 MB"},
	{Size: "distil-large-v2", Repo: "Systran/faster-distil-whisper-large-v2", Files: distilFiles, SizeLabel: "~1.5 GB"},
	{Size: "distil-large-v3", Repo: "Systran/faster-distil-whisper-large-v3", Files: largeV3Files, SizeLabel: "~1.5 GB"},
}

// Lookup returns the catalog entry for size.
func Lookup(size string) (Option, bool) {
	for _, opt := range catalog {
		if opt.Size == size {
			return opt, true
		}
	}
	return Option{}, false
}

// Sizes lists every supported size, sorted.
func Sizes() []string {
	out := make([]string, 0, len(catalog))
	for _, opt := range catalog {
		out = append(out, opt.Size)
	}
	sort.Strings(out)
	return out
}
