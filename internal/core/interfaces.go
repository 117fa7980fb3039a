// Package core defines the collaborator contracts shared by the TTS gateway.
package core

import (
	"context"
	"errors"
)

// ErrObjectNotFound is returned by ObjectStore.Download for a missing key.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	// List returns the keys under prefix in ascending order.
	List(ctx context.Context, prefix string) ([]string, error)
	// URL returns the address at which key can be retrieved.
	URL(key string) string
}

// SpeakerProfile is the fixed voice the service speaks with.
type SpeakerProfile struct {
	// ReferencePath points at the cloning sample on the model host.
	ReferencePath string
	Language      string
}

// Parameters tune a single synthesis call.
type Parameters struct {
	Emotion      []float64
	SpeakingRate float64
	PitchStd     float64
	Temperature  float64
	Seed         int
}

// Synthesizer is the model bound to one slot. Implementations may take
// seconds per call and are never invoked concurrently by the gateway.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, profile SpeakerProfile, params Parameters) ([]byte, error)
}
