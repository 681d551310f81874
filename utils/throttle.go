package utils

import (
	"math"
	"math/rand"
	"time"
)

// Human-like throttle: percentage-based delay distribution so sends never land
// on a robotic fixed interval. 40% fast (min..min+range/3), 45% normal
// (max-range/3..max), 15% slow (beyond max, capped at 20 minutes).

const slowCapMinutes = 20.0

var throttleRand = rand.New(rand.NewSource(time.Now().UnixNano()))

// HumanLikeThrottleSeconds draws a randomized inter-send delay in seconds from
// the campaign's configured (min, max) minute range.
func HumanLikeThrottleSeconds(throttleMinMinutes, throttleMaxMinutes int) int {
	return ThrottleSecondsFrom(throttleRand, throttleMinMinutes, throttleMaxMinutes)
}

// ThrottleSecondsFrom is HumanLikeThrottleSeconds with an injected random
// source, so the distribution is testable.
func ThrottleSecondsFrom(rng *rand.Rand, throttleMinMinutes, throttleMaxMinutes int) int {
	minMin := float64(throttleMinMinutes)
	maxMin := float64(throttleMaxMinutes)
	rnge := maxMin - minMin
	r := rng.Float64()

	var bucketMinMin, bucketMaxMin float64
	switch {
	case r < 0.40:
		bucketMinMin = minMin
		bucketMaxMin = minMin + rnge/3
	case r < 0.85:
		bucketMinMin = maxMin - rnge/3
		bucketMaxMin = maxMin
	default:
		bucketMinMin = maxMin + rnge/3
		bucketMaxMin = math.Min(maxMin+2*rnge/3, slowCapMinutes)
		if bucketMinMin > bucketMaxMin {
			bucketMinMin = bucketMaxMin
		}
	}

	bucketMinSec := int(math.Round(bucketMinMin * 60))
	bucketMaxSec := int(math.Round(bucketMaxMin * 60))
	span := bucketMaxSec - bucketMinSec
	if span <= 0 {
		return bucketMinSec
	}
	return bucketMinSec + rng.Intn(span+1)
}
