package tts

import (
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/config"
	"github.com/book-expert/tts-gateway/internal/core"
)

// NewSynthesizer builds the backend described by one [[slots]] entry.
func NewSynthesizer(slot config.SlotConfig, log *logger.Logger) (core.Synthesizer, error) {
	switch slot.Backend {
	case config.BackendHTTP:
		timeout := time.Duration(slot.TimeoutSeconds) * time.Second

		return NewHTTPClient(slot.URL, timeout), nil
	case config.BackendChatLLM:
		return NewChatLLMProcessor(ChatLLMConfig{
			BinaryPath:    slot.BinaryPath,
			ModelPath:     slot.ModelPath,
			SnacModelPath: slot.SnacModelPath,
			NGL:           slot.NGL,
		}, log)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, slot.Backend)
	}
}
