package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// build info set by goreleaser
var (
	Version = "unknown"
	Commit  = "unknown"
)

// Engine names.
const (
	EngineWhisperX       = "whisperx"
	EngineAWSTranscribe  = "aws-transcribe"
	DefaultRegion        = "us-east-1"
	DefaultComputeType   = "float32"
	DefaultBatchSize     = 4
	DefaultTranscodeWait = 10 * time.Minute
	DefaultRegistryURL   = "https://huggingface.co"
	DefaultListenAddr    = ":8080"
)

// Device policies.
const (
	DeviceAuto = "auto"
	DeviceCUDA = "cuda"
	DeviceCPU  = "cpu"
)

var bucketNameRE = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

// Config holds the worker settings. Values come from an optional TOML file
// and are then overridden by the environment.
type Config struct {
	BucketName      string `toml:"bucket_name"`
	Region          string `toml:"region"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	EndpointURL     string `toml:"endpoint_url"`

	ServerlessMode bool   `toml:"serverless_mode"`
	Engine         string `toml:"engine"`
	Device         string `toml:"device"`
	ComputeType    string `toml:"compute_type"`
	BatchSize      int    `toml:"batch_size"`
	PythonPath     string `toml:"python_path"`

	ModelCacheDir    string `toml:"model_cache_dir"`
	ModelAutoFetch   bool   `toml:"model_auto_fetch"`
	ModelRegistryURL string `toml:"model_registry_url"`
	HFToken          string `toml:"hf_token"`

	ScratchDir          string        `toml:"scratch_dir"`
	FFmpegPath          string        `toml:"ffmpeg_path"`
	TranscodeTimeout    time.Duration `toml:"-"`
	TranscodeTimeoutRaw string        `toml:"transcode_timeout"` // "90s", "10m"

	ListenAddr        string `toml:"listen_addr"`
	MaxConcurrentJobs int    `toml:"max_concurrent_jobs"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Region:            DefaultRegion,
		Engine:            EngineWhisperX,
		ComputeType:       DefaultComputeType,
		BatchSize:         DefaultBatchSize,
		PythonPath:        "python3",
		ModelCacheDir:     defaultCacheDir(),
		ModelAutoFetch:    true,
		ModelRegistryURL:  DefaultRegistryURL,
		ScratchDir:        os.TempDir(),
		FFmpegPath:        "ffmpeg",
		TranscodeTimeout:  DefaultTranscodeWait,
		ListenAddr:        DefaultListenAddr,
		MaxConcurrentJobs: 1,
		LogLevel:          "info",
		LogFormat:         "auto",
	}
}

// Load reads the optional TOML file at path, applies environment overrides
// and validates the result. A missing bucket is not an error here; the job
// handler reports it per job.
func Load(path string, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Default()

	if path == "" {
		path = getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %q: %w", path, err)
		}
	}

	if raw := strings.TrimSpace(cfg.TranscodeTimeoutRaw); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("transcode_timeout: %w", err)
		}
		cfg.TranscodeTimeout = d
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	setString("S3_BUCKET_NAME", &cfg.BucketName)
	setString("AWS_REGION", &cfg.Region)
	setString("AWS_ACCESS_KEY_ID", &cfg.AccessKeyID)
	setString("AWS_SECRET_ACCESS_KEY", &cfg.SecretAccessKey)
	setString("S3_ENDPOINT_URL", &cfg.EndpointURL)
	setString("ENGINE", &cfg.Engine)
	setString("DEVICE", &cfg.Device)
	setString("COMPUTE_TYPE", &cfg.ComputeType)
	setString("WHISPERX_PYTHON", &cfg.PythonPath)
	setString("MODEL_CACHE_DIR", &cfg.ModelCacheDir)
	setString("MODEL_REGISTRY_URL", &cfg.ModelRegistryURL)
	setString("HF_TOKEN", &cfg.HFToken)
	setString("SCRATCH_DIR", &cfg.ScratchDir)
	setString("FFMPEG_PATH", &cfg.FFmpegPath)
	setString("LISTEN_ADDR", &cfg.ListenAddr)
	setString("LOG_LEVEL", &cfg.LogLevel)
	setString("LOG_FORMAT", &cfg.LogFormat)

	if v := strings.TrimSpace(getenv("RUNPOD_SERVERLESS_MODE")); v != "" {
		cfg.ServerlessMode = strings.EqualFold(v, "true")
	}
	if v := strings.TrimSpace(getenv("MODEL_AUTO_FETCH")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MODEL_AUTO_FETCH: %w", err)
		}
		cfg.ModelAutoFetch = b
	}
	if v := strings.TrimSpace(getenv("BATCH_SIZE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BATCH_SIZE: %w", err)
		}
		cfg.BatchSize = n
	}
	if v := strings.TrimSpace(getenv("MAX_CONCURRENT_JOBS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_CONCURRENT_JOBS: %w", err)
		}
		cfg.MaxConcurrentJobs = n
	}
	if v := strings.TrimSpace(getenv("TRANSCODE_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TRANSCODE_TIMEOUT: %w", err)
		}
		cfg.TranscodeTimeout = d
	}
	return nil
}

func (c *Config) normalize() {
	c.Engine = strings.ToLower(strings.TrimSpace(c.Engine))
	c.Device = strings.ToLower(strings.TrimSpace(c.Device))
	if c.Device == "" {
		// serverless workers run on GPU hosts; local runs default to CPU
		c.Device = DeviceCPU
		if c.ServerlessMode {
			c.Device = DeviceAuto
		}
	}
	c.ModelRegistryURL = strings.TrimRight(c.ModelRegistryURL, "/")
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if c.BucketName != "" && !validBucketName(c.BucketName) {
		errs = append(errs, fmt.Errorf("invalid bucket name %q", c.BucketName))
	}
	switch c.Engine {
	case EngineWhisperX, EngineAWSTranscribe:
	default:
		errs = append(errs, fmt.Errorf("unsupported engine %q", c.Engine))
	}
	switch c.Device {
	case DeviceAuto, DeviceCUDA, DeviceCPU:
	default:
		errs = append(errs, fmt.Errorf("unsupported device %q", c.Device))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch size must be positive, got %d", c.BatchSize))
	}
	if c.TranscodeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("transcode timeout must be positive, got %s", c.TranscodeTimeout))
	}
	if c.MaxConcurrentJobs <= 0 {
		errs = append(errs, fmt.Errorf("max concurrent jobs must be positive, got %d", c.MaxConcurrentJobs))
	}
	if strings.TrimSpace(c.ModelCacheDir) == "" {
		errs = append(errs, errors.New("model cache dir is required"))
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		errs = append(errs, errors.New("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together"))
	}
	return errors.Join(errs...)
}

// VersionString formats version information
func VersionString() string {
	commit := Commit
	if len(commit) >= 7 {
		commit = commit[:7]
	}
	return fmt.Sprintf("Version: %s\nCommit: %s\n", Version, commit)
}

// validBucketName validates an S3 bucket name
func validBucketName(bucket string) bool {
	return bucketNameRE.MatchString(bucket)
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "transcribe-worker", "models")
	}
	return filepath.Join(os.TempDir(), "transcribe-worker", "models")
}
