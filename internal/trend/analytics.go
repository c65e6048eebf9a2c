package trend

// AccountAverageSpeed reduces the velocities observed for one account in a
// single pass into its next baseline: the arithmetic mean of the strictly
// positive values. With no positive measurements the baseline is 0.
func AccountAverageSpeed(speeds []float64) float64 {
	var sum float64
	var n int
	for _, s := range speeds {
		if s > 0 {
			sum += s
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
