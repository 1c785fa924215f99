package pool

import "time"

// Output pacing emulates a serial line: at N baud a line carries N/10
// characters per second (8 data bits + start/stop). Output is split into
// chunks worth roughly a tenth of a second each, with a sleep between
// chunks, so a slow virtual line can never flood the network and the
// browser renders at vintage speed.

// chunkSize returns how many characters to emit per frame at the given
// baud rate. Integer truncation deliberately bottoms out at one character
// per frame for very slow lines (110 baud paces a single character).
func chunkSize(baud int) int {
	size := (baud / 10) / 10
	if size < 1 {
		size = 1
	}
	return size
}

// chunkDelay returns how long to sleep after emitting n characters at the
// given baud rate.
func chunkDelay(baud, n int) time.Duration {
	cps := float64(baud) / 10.0
	if cps <= 0 {
		return 0
	}
	return time.Duration(float64(n) / cps * float64(time.Second))
}
