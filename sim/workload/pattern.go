package workload

import (
	"fmt"
	"math/rand"
	"sort"
)

// Pattern names a traffic shape.
type Pattern string

const (
	// PatternSteady sends at the base rate on every tick.
	PatternSteady Pattern = "steady"
	// PatternBurst alternates quiet ticks with short spikes.
	PatternBurst Pattern = "burst"
	// PatternGradual ramps the rate up by a fixed step every tick.
	PatternGradual Pattern = "gradual"
	// PatternRandom draws a fresh rate for every tick.
	PatternRandom Pattern = "random"
)

const (
	burstPeriod     = 10   // ticks per burst cycle
	burstTicks      = 3    // spike ticks at the start of each cycle
	burstMultiplier = 4.0  // spike rate relative to base
	quietDivisor    = 4.0  // quiet rate is base / quietDivisor
	randomMinFactor = 0.25 // random rate lower bound relative to base
	randomMaxFactor = 2.0  // random rate upper bound relative to base
)

// validPatterns is the set of recognized traffic pattern names.
var validPatterns = map[Pattern]bool{
	PatternSteady:  true,
	PatternBurst:   true,
	PatternGradual: true,
	PatternRandom:  true,
}

// IsValidPattern returns true if name is a recognized traffic pattern.
func IsValidPattern(name string) bool {
	return validPatterns[Pattern(name)]
}

// ValidPatterns returns the recognized traffic pattern names, sorted.
func ValidPatterns() []string {
	names := make([]string, 0, len(validPatterns))
	for p := range validPatterns {
		names = append(names, string(p))
	}
	sort.Strings(names)
	return names
}

// ParsePattern converts a name to a Pattern. An empty string defaults to
// PatternSteady.
func ParsePattern(name string) (Pattern, error) {
	if name == "" {
		return PatternSteady, nil
	}
	if !IsValidPattern(name) {
		return "", fmt.Errorf("unknown traffic pattern %q (valid: %v)", name, ValidPatterns())
	}
	return Pattern(name), nil
}

// rateAt returns the requests-per-second target for the given tick.
// rng is consulted only by PatternRandom.
func rateAt(p Pattern, base, rampStep float64, tick int, rng *rand.Rand) float64 {
	switch p {
	case PatternSteady:
		return base
	case PatternBurst:
		if tick%burstPeriod < burstTicks {
			return base * burstMultiplier
		}
		return base / quietDivisor
	case PatternGradual:
		return base + rampStep*float64(tick)
	case PatternRandom:
		return base * (randomMinFactor + (randomMaxFactor-randomMinFactor)*rng.Float64())
	default:
		panic(fmt.Sprintf("unhandled traffic pattern %q", p))
	}
}
