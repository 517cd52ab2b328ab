package audio

import "math"

// RMS computes the root-mean-square energy of samples. It is O(n) over the
// frame, performs no allocation, and returns 0 for an empty slice — suitable
// for the real-time audio callback path.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
