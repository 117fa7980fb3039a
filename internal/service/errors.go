package service

import (
	"errors"
	"fmt"

	"github.com/book-expert/tts-gateway/internal/core"
)

// Request errors. The HTTP layer maps these to 4xx responses.
var (
	ErrUserRequired           = errors.New("authenticated user is required")
	ErrTextRequired           = errors.New("text field is required")
	ErrQuestionNumberRequired = errors.New("question_number field is required")
	ErrTextKeyRequired        = errors.New("text key is required")
	ErrNoTextFiles            = errors.New("no text files found in your folder")
	ErrBatchAborted           = errors.New("batch aborted after a failed item")
)

// Parameter errors all wrap ErrInvalidParameters.
var (
	ErrInvalidParameters = errors.New("invalid synthesis parameters")
	ErrEmotionLength     = errors.New("emotion must have 8 components")
	ErrEmotionRange      = errors.New("emotion components must be between 0.0 and 1.0")
	ErrSpeakingRateRange = errors.New("speaking rate must be in (0, 40]")
	ErrPitchStdRange     = errors.New("pitch std must be between 0 and 400")
	ErrTemperatureRange  = errors.New("temperature must be >= 0.0")
	ErrSeedNegative      = errors.New("seed must be non-negative")
	ErrLanguageEmpty     = errors.New("speaker language cannot be empty")
)

const (
	emotionComponents = 8
	maxSpeakingRate   = 40.0
	maxPitchStd       = 400.0
)

// ValidateParameters ensures params and profile hold values the backends accept.
func ValidateParameters(profile core.SpeakerProfile, params core.Parameters) error {
	if profile.Language == "" {
		return fmt.Errorf("%w: %w", ErrInvalidParameters, ErrLanguageEmpty)
	}

	if len(params.Emotion) != emotionComponents {
		return fmt.Errorf("%w: %w: got %d", ErrInvalidParameters, ErrEmotionLength, len(params.Emotion))
	}

	for i, weight := range params.Emotion {
		if weight < 0.0 || weight > 1.0 {
			return fmt.Errorf("%w: %w: component %d is %f", ErrInvalidParameters, ErrEmotionRange, i, weight)
		}
	}

	if params.SpeakingRate <= 0 || params.SpeakingRate > maxSpeakingRate {
		return fmt.Errorf("%w: %w: got %f", ErrInvalidParameters, ErrSpeakingRateRange, params.SpeakingRate)
	}

	if params.PitchStd < 0 || params.PitchStd > maxPitchStd {
		return fmt.Errorf("%w: %w: got %f", ErrInvalidParameters, ErrPitchStdRange, params.PitchStd)
	}

	if params.Temperature < 0.0 {
		return fmt.Errorf("%w: %w: got %f", ErrInvalidParameters, ErrTemperatureRange, params.Temperature)
	}

	if params.Seed < 0 {
		return fmt.Errorf("%w: %w: got %d", ErrInvalidParameters, ErrSeedNegative, params.Seed)
	}

	return nil
}
