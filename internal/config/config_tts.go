package config

// TTSConfig configures the TTS engine's binary path, cache directory,
// and default voice/emotion/model/speed
type TTSConfig struct {
	BinaryPath     string  `yaml:"binary_path"`
	CacheDir       string  `yaml:"cache_dir"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	Voice          string  `yaml:"voice"`
	Emotion        string  `yaml:"emotion"`
	Model          string  `yaml:"model"`
	Speed          float64 `yaml:"speed"`
}

// DefaultTTSConfig returns sensible defaults for a single opaque
// remote-binary TTS backend.
func DefaultTTSConfig() TTSConfig {
	return TTSConfig{
		BinaryPath:     "",
		CacheDir:       "",
		TimeoutSeconds: 30,
		Voice:          "default",
		Emotion:        "neutral",
		Model:          "default",
		Speed:          1.0,
	}
}
