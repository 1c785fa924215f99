package pool

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestChunkSize(t *testing.T) {
	tests := []struct {
		baud int
		want int
	}{
		{110, 1},   // teletype speed still moves one character at a time
		{300, 3},
		{1200, 12},
		{9600, 96},
		{19200, 192},
		{1, 1},
		{99, 1},
	}

	for _, tt := range tests {
		if got := chunkSize(tt.baud); got != tt.want {
			t.Errorf("chunkSize(%d) = %d, want %d", tt.baud, got, tt.want)
		}
	}
}

func TestChunkDelay(t *testing.T) {
	t.Run("full chunk takes about a tenth of a second", func(t *testing.T) {
		for _, baud := range []int{300, 1200, 9600, 19200} {
			d := chunkDelay(baud, chunkSize(baud))
			if d < 90*time.Millisecond || d > 110*time.Millisecond {
				t.Errorf("chunkDelay(%d, full chunk) = %s, want ~100ms", baud, d)
			}
		}
	})

	t.Run("110 baud sends 11 characters per second", func(t *testing.T) {
		d := chunkDelay(110, 1)
		want := time.Second / 11
		if diff := d - want; diff < -time.Millisecond || diff > time.Millisecond {
			t.Errorf("chunkDelay(110, 1) = %s, want ~%s", d, want)
		}
	})

	t.Run("zero characters means no delay", func(t *testing.T) {
		if d := chunkDelay(9600, 0); d != 0 {
			t.Errorf("chunkDelay(9600, 0) = %s, want 0", d)
		}
	})
}

func TestPacingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("total delay for a burst matches the line rate", prop.ForAll(
		func(baud, chars int) bool {
			size := chunkSize(baud)

			var total time.Duration
			for i := 0; i < chars; i += size {
				n := size
				if i+n > chars {
					n = chars - i
				}
				total += chunkDelay(baud, n)
			}

			// chars characters at baud/10 CPS.
			want := time.Duration(float64(chars) / (float64(baud) / 10.0) * float64(time.Second))
			diff := total - want
			if diff < 0 {
				diff = -diff
			}
			// Per-chunk float truncation only.
			return diff < time.Duration(chars/size+1)*time.Microsecond
		},
		gen.IntRange(110, 38400),
		gen.IntRange(1, 4096),
	))

	properties.Property("chunk size is always at least one", prop.ForAll(
		func(baud int) bool {
			return chunkSize(baud) >= 1
		},
		gen.IntRange(1, 1000000),
	))

	properties.TestingRun(t)
}
