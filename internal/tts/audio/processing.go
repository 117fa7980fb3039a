// Package audio inspects the WAV payloads returned by synthesis backends
// before they are stored.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Constants for supported bit depths.
const (
	BIT_DEPTH_8  = 8
	BIT_DEPTH_16 = 16
	BIT_DEPTH_24 = 24
	BIT_DEPTH_32 = 32
)

// Constants for quality validation limits.
const (
	MAX_SAMPLE_RATE = 192000
	MAX_CHANNELS    = 8
)

// RIFF layout.
const (
	riffHeaderSize  = 12
	chunkHeaderSize = 8
	fmtChunkMinSize = 16
)

const (
	ERR_FMT_SAMPLE_RATE_RANGE = "%w: sample rate must be between 1 and %d Hz"
	ERR_FMT_BIT_DEPTH_VALUES  = "%w: bit depth must be 8, 16, 24, or 32"
	ERR_FMT_CHANNELS_RANGE    = "%w: channels must be between 1 and %d"
	ERR_FMT_TRUNCATED         = "%w: truncated %s chunk"
	ERR_FMT_MISSING_CHUNK     = "%w: missing %s chunk"
)

// Common errors for the audio package.
var (
	ErrInvalidAudio   = errors.New("invalid wav audio")
	ErrInvalidQuality = errors.New("invalid quality settings")
)

// Format represents supported audio formats.
type Format string

// FORMAT_WAV is the only container the backends produce.
const FORMAT_WAV Format = "wav"

// Info describes a decoded WAV header.
type Info struct {
	Format     Format        `json:"format"`
	SampleRate int           `json:"sampleRate"`
	Channels   int           `json:"channels"`
	BitDepth   int           `json:"bitDepth"`
	DataBytes  int           `json:"dataBytes"`
	Duration   time.Duration `json:"duration"`
}

// Inspect parses the RIFF/WAVE header of data and validates its format.
func Inspect(data []byte) (Info, error) {
	if len(data) < riffHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Info{}, fmt.Errorf("%w: not a RIFF/WAVE payload", ErrInvalidAudio)
	}

	var (
		info     = Info{Format: FORMAT_WAV}
		byteRate int
		foundFmt bool
		dataSize = -1
	)

	offset := riffHeaderSize
	for offset+chunkHeaderSize <= len(data) && dataSize < 0 {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + chunkHeaderSize

		switch chunkID {
		case "fmt ":
			if chunkSize < fmtChunkMinSize || body+fmtChunkMinSize > len(data) {
				return Info{}, fmt.Errorf(ERR_FMT_TRUNCATED, ErrInvalidAudio, "fmt")
			}

			info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			byteRate = int(binary.LittleEndian.Uint32(data[body+8 : body+12]))
			info.BitDepth = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			foundFmt = true
		case "data":
			// Streaming writers leave the size unset; fall back to what is present.
			dataSize = min(chunkSize, len(data)-body)
		}

		// Chunks are word aligned.
		offset = body + chunkSize + chunkSize%2
	}

	if !foundFmt {
		return Info{}, fmt.Errorf(ERR_FMT_MISSING_CHUNK, ErrInvalidAudio, "fmt")
	}

	if dataSize < 0 {
		return Info{}, fmt.Errorf(ERR_FMT_MISSING_CHUNK, ErrInvalidAudio, "data")
	}

	err := validateQuality(info)
	if err != nil {
		return Info{}, err
	}

	info.DataBytes = dataSize
	if byteRate > 0 {
		info.Duration = time.Duration(int64(dataSize) * int64(time.Second) / int64(byteRate))
	}

	return info, nil
}

func validateQuality(info Info) error {
	sampleRateErr := validateSampleRate(info.SampleRate)
	if sampleRateErr != nil {
		return sampleRateErr
	}

	bitDepthErr := validateBitDepth(info.BitDepth)
	if bitDepthErr != nil {
		return bitDepthErr
	}

	return validateChannels(info.Channels)
}

//
// Validation Helpers
//

func validateSampleRate(sampleRate int) error {
	if sampleRate <= 0 || sampleRate > MAX_SAMPLE_RATE {
		return fmt.Errorf(
			ERR_FMT_SAMPLE_RATE_RANGE,
			ErrInvalidQuality,
			MAX_SAMPLE_RATE,
		)
	}

	return nil
}

func validateBitDepth(bitDepth int) error {
	switch bitDepth {
	case BIT_DEPTH_8, BIT_DEPTH_16, BIT_DEPTH_24, BIT_DEPTH_32:
		return nil
	default:
		return fmt.Errorf(ERR_FMT_BIT_DEPTH_VALUES, ErrInvalidQuality)
	}
}

func validateChannels(channels int) error {
	if channels <= 0 || channels > MAX_CHANNELS {
		return fmt.Errorf(ERR_FMT_CHANNELS_RANGE, ErrInvalidQuality, MAX_CHANNELS)
	}

	return nil
}
