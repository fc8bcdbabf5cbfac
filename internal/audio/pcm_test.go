package audio

import "testing"

func TestDecodePCM16(t *testing.T) {
	// little-endian: 0, 16384, -32768, 32767
	data := []byte{
		0x00, 0x00,
		0x00, 0x40,
		0x00, 0x80,
		0xFF, 0x7F,
	}
	samples, err := DecodePCM16(data)
	if err != nil {
		t.Fatalf("DecodePCM16: %v", err)
	}
	want := []float32{0, 0.5, -1.0, 32767.0 / 32768.0}
	if len(samples) != len(want) {
		t.Fatalf("samples = %v", samples)
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Fatalf("sample[%d] = %v, want %v", i, samples[i], want[i])
		}
	}
}

func TestDecodePCM16OddLength(t *testing.T) {
	if _, err := DecodePCM16([]byte{0x00, 0x01, 0x02}); err == nil {
		t.Fatal("odd payload accepted")
	}
}

func TestDecodePCM16Empty(t *testing.T) {
	samples, err := DecodePCM16(nil)
	if err != nil {
		t.Fatalf("DecodePCM16: %v", err)
	}
	if len(samples) != 0 {
		t.Fatalf("samples = %v", samples)
	}
}
