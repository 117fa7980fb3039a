// Package config provides the configuration structure for the tts-gateway.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// Backend names accepted in [[slots]].
const (
	BackendHTTP    = "http"
	BackendChatLLM = "chatllm"
)

// Batch acquisition policies.
const (
	BatchPerBatch = "per_batch"
	BatchPerItem  = "per_item"
)

const (
	defaultListenAddr      = ":8080"
	defaultPublicURLPrefix = "http://localhost:8080/v1/audio"
	defaultUserHeader      = "X-User-Email"
	defaultOutputPrefix    = "tts_outputs"
	defaultTextExtension   = ".txt"
	defaultQuestionFormat  = "질문 %s.wav"
	defaultTimeoutSeconds  = 300
	defaultLanguage        = "ko"
	defaultSpeakingRate    = 23.0
	defaultPitchStd        = 20.0
	defaultTemperature     = 0.75
	defaultRedisPrefix     = "tts:admission"
	defaultRedisTTLSeconds = 86400
	defaultBinaryPath      = "chatllm"
)

var (
	// ErrNoSlots indicates a configuration without any [[slots]] entry.
	ErrNoSlots = errors.New("at least one slot must be configured")
	// ErrDuplicateSlot indicates two slots sharing a name.
	ErrDuplicateSlot = errors.New("duplicate slot name")
	// ErrUnknownBackend indicates a slot backend other than http or chatllm.
	ErrUnknownBackend = errors.New("unknown slot backend")
	// ErrSlotURLEmpty indicates an http slot without a url.
	ErrSlotURLEmpty = errors.New("http slot requires a url")
	// ErrSlotModelEmpty indicates a chatllm slot without a model path.
	ErrSlotModelEmpty = errors.New("chatllm slot requires a model_path")
	// ErrBatchPolicy indicates an unsupported batch_acquisition value.
	ErrBatchPolicy = errors.New("batch_acquisition must be per_batch or per_item")
	// ErrBucketEmpty indicates a missing object store bucket name.
	ErrBucketEmpty = errors.New("object store bucket names cannot be empty")
)

// defaultEmotion is the production voice mix: mostly
// neutral with a little happiness.
func defaultEmotion() []float64 {
	return []float64{0.1, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0, 0.9}
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	ListenAddr         string  `toml:"listen_addr"`
	UserHeader         string  `toml:"user_header"`
	RateLimitPerSecond float64 `toml:"rate_limit_per_second"`
	RateLimitBurst     int     `toml:"rate_limit_burst"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                      string `toml:"url"`
	TextProcessedSubject     string `toml:"text_processed_subject"`
	AudioChunkCreatedSubject string `toml:"audio_chunk_created_subject"`
	AudioObjectStoreBucket   string `toml:"audio_object_store_bucket"`
	TextObjectStoreBucket    string `toml:"text_object_store_bucket"`
	PublicURLPrefix          string `toml:"public_url_prefix"`
}

// TTSServiceConfig holds the orchestration settings.
type TTSServiceConfig struct {
	OutputPrefix     string `toml:"output_prefix"`
	TextExtension    string `toml:"text_extension"`
	QuestionFormat   string `toml:"question_filename_format"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
	BatchAcquisition string `toml:"batch_acquisition"`
	ContinueOnError  *bool  `toml:"continue_on_error"`
	NormalizeText    bool   `toml:"normalize_text"`
}

// SpeakerConfig describes the fixed voice profile and default parameters.
type SpeakerConfig struct {
	ReferencePath string    `toml:"reference_path"`
	Language      string    `toml:"language"`
	Emotion       []float64 `toml:"emotion"`
	SpeakingRate  float64   `toml:"speaking_rate"`
	PitchStd      float64   `toml:"pitch_std"`
	// Temperature is nil when unset; 0.0 is a valid setting.
	Temperature *float64 `toml:"temperature"`
	Seed        int      `toml:"seed"`
}

// SlotConfig binds one slot name to the model instance serving it.
type SlotConfig struct {
	Name           string `toml:"name"`
	Backend        string `toml:"backend"`
	URL            string `toml:"url"`
	BinaryPath     string `toml:"binary_path"`
	ModelPath      string `toml:"model_path"`
	SnacModelPath  string `toml:"snac_model_path"`
	NGL            int    `toml:"ngl"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// RedisConfig enables the Redis admission statistics recorder when Addr is set.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	Prefix     string `toml:"prefix"`
	TTLSeconds int    `toml:"ttl_seconds"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Server  ServerConfig     `toml:"server"`
	NATS    NATSConfig       `toml:"nats"`
	TTS     TTSServiceConfig `toml:"tts_service"`
	Speaker SpeakerConfig    `toml:"speaker"`
	Slots   []SlotConfig     `toml:"slots"`
	Redis   RedisConfig      `toml:"redis"`
	Paths   PathsConfig      `toml:"paths"`
}

// Load loads the configuration for the tts-gateway through the configurator,
// then applies defaults and validates it.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finalize(&cfg)
}

// LoadFile reads a TOML file at path, applies defaults and validates it.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes TOML data, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	err := toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return finalize(&cfg)
}

func finalize(cfg *Config) (*Config, error) {
	cfg.ApplyDefaults()

	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = defaultListenAddr
	}

	if c.Server.UserHeader == "" {
		c.Server.UserHeader = defaultUserHeader
	}

	if c.NATS.PublicURLPrefix == "" {
		c.NATS.PublicURLPrefix = defaultPublicURLPrefix
	}

	c.applyTTSDefaults()
	c.applySpeakerDefaults()

	for i := range c.Slots {
		slot := &c.Slots[i]
		if slot.Backend == "" {
			slot.Backend = BackendHTTP
		}

		if slot.Backend == BackendChatLLM && slot.BinaryPath == "" {
			slot.BinaryPath = defaultBinaryPath
		}

		if slot.TimeoutSeconds <= 0 {
			slot.TimeoutSeconds = c.TTS.TimeoutSeconds
		}
	}

	if c.Redis.Prefix == "" {
		c.Redis.Prefix = defaultRedisPrefix
	}

	if c.Redis.TTLSeconds <= 0 {
		c.Redis.TTLSeconds = defaultRedisTTLSeconds
	}

	if c.Paths.BaseLogsDir == "" {
		c.Paths.BaseLogsDir = os.TempDir()
	}
}

func (c *Config) applyTTSDefaults() {
	if c.TTS.OutputPrefix == "" {
		c.TTS.OutputPrefix = defaultOutputPrefix
	}

	if c.TTS.TextExtension == "" {
		c.TTS.TextExtension = defaultTextExtension
	}

	if c.TTS.QuestionFormat == "" {
		c.TTS.QuestionFormat = defaultQuestionFormat
	}

	if c.TTS.TimeoutSeconds <= 0 {
		c.TTS.TimeoutSeconds = defaultTimeoutSeconds
	}

	if c.TTS.BatchAcquisition == "" {
		c.TTS.BatchAcquisition = BatchPerBatch
	}

	if c.TTS.ContinueOnError == nil {
		continueOnError := true
		c.TTS.ContinueOnError = &continueOnError
	}
}

func (c *Config) applySpeakerDefaults() {
	if c.Speaker.Language == "" {
		c.Speaker.Language = defaultLanguage
	}

	if len(c.Speaker.Emotion) == 0 {
		c.Speaker.Emotion = defaultEmotion()
	}

	if c.Speaker.SpeakingRate == 0 {
		c.Speaker.SpeakingRate = defaultSpeakingRate
	}

	if c.Speaker.PitchStd == 0 {
		c.Speaker.PitchStd = defaultPitchStd
	}

	if c.Speaker.Temperature == nil {
		temperature := defaultTemperature
		c.Speaker.Temperature = &temperature
	}
}

// Validate checks the settings the process cannot start without.
func (c *Config) Validate() error {
	if len(c.Slots) == 0 {
		return ErrNoSlots
	}

	seen := make(map[string]struct{}, len(c.Slots))

	for _, slot := range c.Slots {
		if _, dup := seen[slot.Name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateSlot, slot.Name)
		}

		seen[slot.Name] = struct{}{}

		switch slot.Backend {
		case BackendHTTP:
			if slot.URL == "" {
				return fmt.Errorf("%w: slot %q", ErrSlotURLEmpty, slot.Name)
			}
		case BackendChatLLM:
			if slot.ModelPath == "" {
				return fmt.Errorf("%w: slot %q", ErrSlotModelEmpty, slot.Name)
			}
		default:
			return fmt.Errorf("%w: %q", ErrUnknownBackend, slot.Backend)
		}
	}

	switch c.TTS.BatchAcquisition {
	case BatchPerBatch, BatchPerItem:
	default:
		return fmt.Errorf("%w: got %q", ErrBatchPolicy, c.TTS.BatchAcquisition)
	}

	if c.NATS.URL != "" && (c.NATS.AudioObjectStoreBucket == "" || c.NATS.TextObjectStoreBucket == "") {
		return ErrBucketEmpty
	}

	return nil
}

// SlotNames returns the configured slot names in order.
func (c *Config) SlotNames() []string {
	names := make([]string, len(c.Slots))
	for i, slot := range c.Slots {
		names[i] = slot.Name
	}

	return names
}

// Slot returns the slot configuration named name.
func (c *Config) Slot(name string) (SlotConfig, bool) {
	for _, slot := range c.Slots {
		if slot.Name == name {
			return slot, true
		}
	}

	return SlotConfig{}, false
}

// Timeout returns the per-call synthesis deadline.
func (c TTSServiceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// EffectiveTemperature returns the configured temperature or the default.
func (c SpeakerConfig) EffectiveTemperature() float64 {
	if c.Temperature == nil {
		return defaultTemperature
	}

	return *c.Temperature
}

// RedisTTL returns the expiry applied to per-minute statistics keys.
func (c RedisConfig) RedisTTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}
