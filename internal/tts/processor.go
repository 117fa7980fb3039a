package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/core"
	"github.com/book-expert/tts-gateway/internal/tts/ttsutils"
)

// ErrBinaryPathEmpty indicates a chatllm backend without a binary to run.
var ErrBinaryPathEmpty = errors.New("chatllm binary path cannot be empty")

// ChatLLMConfig locates the binary and model files for one chatllm slot.
type ChatLLMConfig struct {
	BinaryPath    string
	ModelPath     string
	SnacModelPath string
	NGL           int
}

// ChatLLMProcessor implements core.Synthesizer by running the chatllm binary
// once per call.
type ChatLLMProcessor struct {
	config ChatLLMConfig
	log    *logger.Logger
}

var _ core.Synthesizer = (*ChatLLMProcessor)(nil)

// NewChatLLMProcessor resolves the model paths and returns a processor.
func NewChatLLMProcessor(cfg ChatLLMConfig, log *logger.Logger) (*ChatLLMProcessor, error) {
	if cfg.BinaryPath == "" {
		return nil, ErrBinaryPathEmpty
	}

	modelPath, err := ttsutils.GetModelPath(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve model path: %w", err)
	}

	cfg.ModelPath = modelPath

	if cfg.SnacModelPath != "" {
		snacPath, snacErr := ttsutils.GetModelPath(cfg.SnacModelPath)
		if snacErr != nil {
			return nil, fmt.Errorf("failed to resolve snac model path: %w", snacErr)
		}

		cfg.SnacModelPath = snacPath
	}

	return &ChatLLMProcessor{
		config: cfg,
		log:    log,
	}, nil
}

// Config returns the resolved backend configuration.
func (p *ChatLLMProcessor) Config() ChatLLMConfig {
	return p.config
}

// Synthesize runs chatllm and returns the WAV file it exported.
func (p *ChatLLMProcessor) Synthesize(
	ctx context.Context,
	text string,
	profile core.SpeakerProfile,
	params core.Parameters,
) ([]byte, error) {
	if text == "" {
		return nil, ErrTextEmpty
	}

	tempFile, err := os.CreateTemp("", "tts-output-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for tts output: %w", err)
	}

	closeErr := tempFile.Close()
	if closeErr != nil {
		p.log.Warn("Failed to close temp file '%s': %v", tempFile.Name(), closeErr)
	}

	defer func() {
		removeErr := os.Remove(tempFile.Name())
		if removeErr != nil && !os.IsNotExist(removeErr) {
			p.log.Warn("Failed to remove temp file '%s': %v", tempFile.Name(), removeErr)
		}
	}()

	// #nosec G204 -- binary and model paths come from the operator's config
	cmd := exec.CommandContext(ctx, p.config.BinaryPath, p.args(text, profile, params, tempFile.Name())...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("chatllm binary execution failed: %w - output: %s", err, string(output))
	}

	audioData, err := os.ReadFile(tempFile.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data from temp file: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

func (p *ChatLLMProcessor) args(text string, profile core.SpeakerProfile, params core.Parameters, outPath string) []string {
	args := []string{
		"-m", p.config.ModelPath,
		"-p", text,
		"--tts_export", outPath,
		"--seed", strconv.Itoa(params.Seed),
		"-ngl", strconv.Itoa(p.config.NGL),
		"--temp", strconv.FormatFloat(params.Temperature, 'f', 2, 64),
	}

	if p.config.SnacModelPath != "" {
		args = append(args, "--snac_model", p.config.SnacModelPath)
	}

	if profile.ReferencePath != "" {
		args = append(args, "--tts_speaker", profile.ReferencePath)
	}

	if profile.Language != "" {
		args = append(args, "--tts_language", profile.Language)
	}

	return args
}
