// Package transcribe bridges a WAV upload to the external streaming
// transcoder over a raw TCP connection.
package transcribe

import (
	"encoding/binary"
	"fmt"
)

// PCMParams describes the uploaded audio, read from the WAV fmt chunk.
type PCMParams struct {
	SampleRate    uint32
	BitsPerSample uint16
	Channels      uint16
}

// RequiredSampleRate, RequiredBits, and RequiredChannels are the only
// format this bridge accepts: 16kHz, 16-bit, mono. Anything else is
// rejected before a connection to the transcoder is even opened.
const (
	RequiredSampleRate = 16000
	RequiredBits       = 16
	RequiredChannels   = 1
)

// ParseWAV validates a RIFF/WAVE container and returns its PCM
// parameters and raw sample data (the "data" chunk body). It does not
// attempt to handle compressed WAV variants (ADPCM, WAVE_FORMAT_EXTENSIBLE
// with non-PCM subformats) — the upload surface only accepts PCM.
func ParseWAV(data []byte) (PCMParams, []byte, error) {
	if len(data) < 12 {
		return PCMParams{}, nil, fmt.Errorf("wav: file too short")
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return PCMParams{}, nil, fmt.Errorf("wav: not a RIFF/WAVE file")
	}

	var params PCMParams
	var havefmt bool
	var pcm []byte

	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		body := offset + 8

		if body+int(chunkSize) > len(data) {
			return PCMParams{}, nil, fmt.Errorf("wav: chunk %q overruns file (size %d)", chunkID, chunkSize)
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return PCMParams{}, nil, fmt.Errorf("wav: fmt chunk too small (%d bytes)", chunkSize)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 && format != 0xFFFE { // PCM, or WAVE_FORMAT_EXTENSIBLE (validated by bit depth below)
				return PCMParams{}, nil, fmt.Errorf("wav: unsupported format tag %d, want PCM", format)
			}
			params.Channels = binary.LittleEndian.Uint16(data[body+2 : body+4])
			params.SampleRate = binary.LittleEndian.Uint32(data[body+4 : body+8])
			params.BitsPerSample = binary.LittleEndian.Uint16(data[body+14 : body+16])
			havefmt = true
		case "data":
			pcm = data[body : body+int(chunkSize)]
		}

		offset = body + int(chunkSize)
		if chunkSize%2 == 1 {
			offset++ // chunks are word-aligned
		}
	}

	if !havefmt {
		return PCMParams{}, nil, fmt.Errorf("wav: missing fmt chunk")
	}
	if pcm == nil {
		return PCMParams{}, nil, fmt.Errorf("wav: missing data chunk")
	}
	if err := params.Validate(); err != nil {
		return PCMParams{}, nil, err
	}
	return params, pcm, nil
}

// Validate enforces the bridge's one accepted format.
func (p PCMParams) Validate() error {
	if p.SampleRate != RequiredSampleRate {
		return fmt.Errorf("wav: sample rate %d, want %d", p.SampleRate, RequiredSampleRate)
	}
	if p.BitsPerSample != RequiredBits {
		return fmt.Errorf("wav: bits per sample %d, want %d", p.BitsPerSample, RequiredBits)
	}
	if p.Channels != RequiredChannels {
		return fmt.Errorf("wav: channels %d, want %d (mono)", p.Channels, RequiredChannels)
	}
	return nil
}
