package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func sinePCM(samples int, amplitude float64) []byte {
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(amplitude * math.Sin(2*math.Pi*float64(i)/64))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}

func TestFrameEnergy(t *testing.T) {
	if e := FrameEnergy(nil); e != 0 {
		t.Fatalf("empty payload energy = %v, want 0", e)
	}
	if e := FrameEnergy(make([]byte, 640)); e != 0 {
		t.Fatalf("digital silence energy = %v, want 0", e)
	}

	quiet := FrameEnergy(sinePCM(320, 500))
	loud := FrameEnergy(sinePCM(320, 20000))
	if quiet <= 0 || loud <= 0 {
		t.Fatalf("tone energies must be positive: quiet=%v loud=%v", quiet, loud)
	}
	if loud <= quiet {
		t.Fatalf("louder tone must yield higher energy: quiet=%v loud=%v", quiet, loud)
	}
	if loud > EnergyScale {
		t.Fatalf("energy %v exceeds scale %d", loud, EnergyScale)
	}
}

func TestEncodeDecodeWAVRoundTrip(t *testing.T) {
	pcm := sinePCM(320, 12000)
	encoded, err := EncodeWAV(pcm, 16000, 1)
	if err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	if len(encoded) <= len(pcm) {
		t.Fatalf("encoded wav (%d bytes) must exceed raw pcm (%d bytes)", len(encoded), len(pcm))
	}

	decoded, rate, channels, err := DecodeWAV(encoded)
	if err != nil {
		t.Fatalf("decode wav: %v", err)
	}
	if rate != 16000 || channels != 1 {
		t.Fatalf("unexpected format: rate=%d channels=%d", rate, channels)
	}
	if len(decoded) != len(pcm) {
		t.Fatalf("decoded length %d, want %d", len(decoded), len(pcm))
	}
	for i := range pcm {
		if decoded[i] != pcm[i] {
			t.Fatalf("sample byte %d differs: got %d want %d", i, decoded[i], pcm[i])
		}
	}
}

func TestEncodeWAVRejectsBadInput(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000, 1); err == nil {
		t.Fatal("expected error for empty payload")
	}
	if _, err := EncodeWAV(sinePCM(32, 1000), 0, 1); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
	if _, err := EncodeWAV(sinePCM(32, 1000), 16000, 0); err == nil {
		t.Fatal("expected error for zero channels")
	}
}
