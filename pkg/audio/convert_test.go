package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/guru/pkg/audio"
)

func approx(a, b float32) bool { return math.Abs(float64(a-b)) < 1e-4 }

func TestDownmixMono(t *testing.T) {
	got := audio.DownmixMono([]float32{0.2, 0.4, -0.5, -0.1}, 2)
	want := []float32{0.3, -0.3}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !approx(got[i], want[i]) {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestResampleMono(t *testing.T) {
	tests := []struct {
		name    string
		in      []float32
		src     int
		dst     int
		wantLen int
	}{
		{name: "identity", in: make([]float32, 100), src: 16000, dst: 16000, wantLen: 100},
		{name: "downsample 48k to 16k", in: make([]float32, 480), src: 48000, dst: 16000, wantLen: 160},
		{name: "upsample 16k to 24k", in: make([]float32, 160), src: 16000, dst: 24000, wantLen: 240},
		{name: "invalid rate", in: make([]float32, 10), src: 0, dst: 16000, wantLen: 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := audio.ResampleMono(tt.in, tt.src, tt.dst)
			if len(got) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestResampleMono_Interpolates(t *testing.T) {
	got := audio.ResampleMono([]float32{0, 1}, 1, 2)
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	if !approx(got[1], 0.5) {
		t.Errorf("midpoint = %v, want 0.5", got[1])
	}
}

func TestFormatConverter(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}

	in := make([]float32, 320)
	if got := conv.Convert(in, audio.Format{SampleRate: 16000, Channels: 1}); len(got) != 320 {
		t.Errorf("fast path len = %d, want 320", len(got))
	}
	// 10 ms of 48 kHz stereo is 960 interleaved samples → 160 mono at 16 kHz.
	stereo := make([]float32, 960)
	if got := conv.Convert(stereo, audio.Format{SampleRate: 48000, Channels: 2}); len(got) != 160 {
		t.Errorf("converted len = %d, want 160", len(got))
	}
}

func TestFloat32Bytes(t *testing.T) {
	in := []float32{0, 0.5, -1, 0.25}
	got := audio.BytesToFloat32(append(audio.Float32ToBytes(in), 0x01))
	if len(got) != len(in) {
		t.Fatalf("len = %d, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], in[i])
		}
	}
}

func TestReblocker(t *testing.T) {
	r := audio.NewReblocker(4)

	if blocks := r.Write([]float32{1, 2, 3}); len(blocks) != 0 {
		t.Fatalf("got %d blocks before filling, want 0", len(blocks))
	}
	blocks := r.Write([]float32{4, 5, 6, 7, 8, 9, 10})
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}
	for i, want := range [][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}} {
		for j := range want {
			if blocks[i][j] != want[j] {
				t.Errorf("block %d sample %d = %v, want %v", i, j, blocks[i][j], want[j])
			}
		}
	}
	if r.Pending() != 2 {
		t.Errorf("Pending = %d, want 2", r.Pending())
	}
	r.Reset()
	if r.Pending() != 0 {
		t.Errorf("Pending after Reset = %d, want 0", r.Pending())
	}
}
