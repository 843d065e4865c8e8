package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// wavHeader is the canonical 44-byte PCM WAV header layout
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32
	AudioFormat   uint16 // 1 = PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// EncodeWAV encodes mono PCM-16 samples into a RIFF/WAVE byte stream
// suitable for multipart upload to the transcription API.
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	dataSize := uint32(len(samples) * 2)
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, [4]byte{'d', 'a', 't', 'a'}); err != nil {
		return nil, fmt.Errorf("failed to write data chunk id: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, dataSize); err != nil {
		return nil, fmt.Errorf("failed to write data chunk size: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeWAV decodes a mono PCM-16 WAV byte stream back to samples and the
// sample rate. Non-audio chunks (LIST, fact, ...) before the data chunk are
// skipped, since real recorder output often carries them.
func DecodeWAV(data []byte) ([]int16, int, error) {
	if len(data) < 44 {
		return nil, 0, fmt.Errorf("WAV data too short: need at least 44 bytes, got %d", len(data))
	}

	r := bytes.NewReader(data)
	var header wavHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, 0, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if string(header.ChunkID[:]) != "RIFF" || string(header.Format[:]) != "WAVE" {
		return nil, 0, fmt.Errorf("invalid WAV file: not a RIFF/WAVE stream")
	}
	if string(header.Subchunk1ID[:]) != "fmt " {
		return nil, 0, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	if header.AudioFormat != 1 {
		return nil, 0, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}
	if header.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", header.BitsPerSample)
	}
	if header.NumChannels != 1 {
		return nil, 0, fmt.Errorf("unsupported channel count: %d (only mono is supported)", header.NumChannels)
	}

	// the fmt chunk may be longer than the 16 PCM bytes already consumed
	if extra := int64(header.Subchunk1Size) - 16; extra > 0 {
		if _, err := r.Seek(extra, 1); err != nil {
			return nil, 0, fmt.Errorf("failed to skip fmt extension: %w", err)
		}
	}

	// walk chunks until "data"
	for {
		var id [4]byte
		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return nil, 0, fmt.Errorf("invalid WAV file: missing data chunk")
		}
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, 0, fmt.Errorf("failed to read chunk size: %w", err)
		}
		if string(id[:]) == "data" {
			numSamples := int(size) / 2
			if numSamples <= 0 {
				return nil, 0, fmt.Errorf("no audio data found")
			}
			samples := make([]int16, numSamples)
			if err := binary.Read(r, binary.LittleEndian, samples); err != nil {
				return nil, 0, fmt.Errorf("failed to read audio samples: %w", err)
			}
			return samples, int(header.SampleRate), nil
		}
		if _, err := r.Seek(int64(size), 1); err != nil {
			return nil, 0, fmt.Errorf("failed to skip %q chunk: %w", string(id[:]), err)
		}
	}
}

// WAVInfo describes the audio content of a WAV byte stream
type WAVInfo struct {
	SampleRate int     `json:"sample_rate"`
	NumSamples int     `json:"num_samples"`
	Duration   float64 `json:"duration_seconds"`
}

// GetWAVInfo extracts basic metadata from a WAV byte stream
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	samples, rate, err := DecodeWAV(data)
	if err != nil {
		return nil, err
	}
	return &WAVInfo{
		SampleRate: rate,
		NumSamples: len(samples),
		Duration:   float64(len(samples)) / float64(rate),
	}, nil
}
