package audio

import (
	"math"
	"testing"
)

func TestEncodeWAV(t *testing.T) {
	// 440Hz sine wave for 0.1 seconds at 16kHz
	sampleRate := 16000
	numSamples := sampleRate / 10
	samples := make([]int16, numSamples)
	for i := range samples {
		ts := float64(i) / float64(sampleRate)
		samples[i] = int16(16383.0 * math.Sin(2*math.Pi*440.0*ts))
	}

	wavData, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	expectedSize := 44 + len(samples)*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	info, err := GetWAVInfo(wavData)
	if err != nil {
		t.Fatalf("Failed to get WAV info: %v", err)
	}
	if info.SampleRate != sampleRate {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, info.SampleRate)
	}
	if info.NumSamples != numSamples {
		t.Errorf("Expected %d samples, got %d", numSamples, info.NumSamples)
	}
	expectedDuration := float64(numSamples) / float64(sampleRate)
	if math.Abs(info.Duration-expectedDuration) > 0.001 {
		t.Errorf("Expected duration %.3f, got %.3f", expectedDuration, info.Duration)
	}
}

func TestEncodeWAVErrors(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000); err == nil {
		t.Error("Expected error for empty samples")
	}
	if _, err := EncodeWAV([]int16{1, 2, 3}, 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

func TestDecodeWAVRoundtrip(t *testing.T) {
	originalSamples := []int16{100, -200, 300, -400, 500, 0, 32767, -32768}
	sampleRate := 16000

	wavData, err := EncodeWAV(originalSamples, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decoded, rate, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != sampleRate {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, rate)
	}
	if len(decoded) != len(originalSamples) {
		t.Fatalf("Expected %d samples, got %d", len(originalSamples), len(decoded))
	}
	for i, s := range originalSamples {
		if decoded[i] != s {
			t.Errorf("Sample %d: expected %d, got %d", i, s, decoded[i])
		}
	}
}

func TestDecodeWAVSkipsExtraChunks(t *testing.T) {
	samples := []int16{10, 20, 30, 40}
	wavData, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	// Splice a LIST chunk between the fmt and data chunks
	list := []byte{'L', 'I', 'S', 'T', 4, 0, 0, 0, 'I', 'N', 'F', 'O'}
	spliced := make([]byte, 0, len(wavData)+len(list))
	spliced = append(spliced, wavData[:36]...)
	spliced = append(spliced, list...)
	spliced = append(spliced, wavData[36:]...)

	decoded, _, err := DecodeWAV(spliced)
	if err != nil {
		t.Fatalf("DecodeWAV failed on stream with LIST chunk: %v", err)
	}
	if len(decoded) != len(samples) {
		t.Errorf("Expected %d samples, got %d", len(samples), len(decoded))
	}
}

func TestDecodeWAVErrors(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("too short")); err == nil {
		t.Error("Expected error for truncated data")
	}

	wavData, _ := EncodeWAV([]int16{1, 2, 3, 4}, 16000)

	// Corrupt the RIFF magic
	bad := append([]byte(nil), wavData...)
	copy(bad[0:4], "JUNK")
	if _, _, err := DecodeWAV(bad); err == nil {
		t.Error("Expected error for missing RIFF header")
	}

	// Claim a non-PCM format
	bad = append([]byte(nil), wavData...)
	bad[20] = 3
	if _, _, err := DecodeWAV(bad); err == nil {
		t.Error("Expected error for non-PCM format")
	}

	// Claim stereo
	bad = append([]byte(nil), wavData...)
	bad[22] = 2
	if _, _, err := DecodeWAV(bad); err == nil {
		t.Error("Expected error for stereo input")
	}
}
