// Package pow implements the fractional-difficulty proof-of-work predicate
// and the periodic retarget curve described in spec.md §4.2. It has no
// teacher analogue in bsv-blockchain-teranode (which targets integer nBits
// difficulty, model.NBit) — the shape here (Split/Valid/Retarget as free
// functions over a decimal difficulty) is new code grounded directly on
// spec.md's formulas, kept as small, pure, table-tested functions in the
// same idiom as the teacher's own small math helpers (e.g. model.NBit's
// CalculateDifficulty).
package pow

import (
	"math"
	"strings"

	"github.com/ledgerd/node/chainparams"
)

const hexDigits = "0123456789abcdef"

// Split decomposes a difficulty D into its integer part i = floor(D) and
// fractional part f = D - i.
func Split(d float64) (i int, f float64) {
	i = int(math.Floor(d))
	f = d - float64(i)
	return i, f
}

// RoundDifficulty snaps a difficulty to the 0.1 step grid ledgerd stores
// on the wire (round(D*10)/10, per spec.md §3's difficulty field layout).
func RoundDifficulty(d float64) float64 {
	return math.Round(d*10) / 10
}

// Valid reports whether candidate block hash h (hex) satisfies the PoW
// predicate against parent hash p (hex) under difficulty d, per spec.md
// §4.2. The genesis block has no parent and is exempt from this check —
// callers must special-case an empty parent hash themselves.
func Valid(h, p string, d float64) bool {
	i, f := Split(d)
	if i < 0 || i > len(p) || i > len(h) {
		return false
	}

	if !strings.HasPrefix(h, p[len(p)-i:]) {
		return false
	}

	if f > 0 {
		if i >= len(h) {
			return false
		}
		allowed := int(math.Ceil(16 * (1 - f)))
		idx := strings.IndexByte(hexDigits, h[i])
		if idx < 0 || idx >= allowed {
			return false
		}
	}

	return true
}

// Hashrate converts a difficulty to its equivalent hash-rate, per spec.md
// §4.2: H(D) = 16^i * (16 / ceil(16*(1-f))).
func Hashrate(d float64) float64 {
	i, f := Split(d)
	denom := math.Ceil(16 * (1 - f))
	if denom <= 0 {
		denom = 1
	}
	return math.Pow(16, float64(i)) * (16 / denom)
}

// HashrateToDifficulty inverts Hashrate by scanning the 0.1-step fractional
// grid, per spec.md §4.2's retarget procedure.
func HashrateToDifficulty(h float64) float64 {
	if h <= 1 {
		return 0
	}

	iPrime := math.Floor(math.Log(h) / math.Log(16))
	target := h * math.Pow(16, -iPrime)

	const eps = 1e-9
	for step := 0; step <= 9; step++ {
		fPrime := float64(step) / 10
		denom := math.Ceil(16 * (1 - fPrime))
		if 16/denom >= target-eps {
			return RoundDifficulty(iPrime + fPrime)
		}
	}

	// target fell in the gap above f'=0.9's ceiling (8x) and below the next
	// integer step's 16x — round up to the next whole difficulty.
	return RoundDifficulty(iPrime + 1)
}

// ClampRatio bounds a retarget ratio to spec.md §4.2's [0.25, 4.0] range,
// resolving spec.md §9's Open Question in favor of always clamping.
func ClampRatio(ratio float64) float64 {
	if ratio < chainparams.RetargetRatioMin {
		return chainparams.RetargetRatioMin
	}
	if ratio > chainparams.RetargetRatioMax {
		return chainparams.RetargetRatioMax
	}
	return ratio
}

// Retarget computes the new difficulty given the current (parent) difficulty
// and the elapsed wall-clock seconds between the first and last blocks of
// the just-completed adjustment window, per spec.md §4.2. An elapsedSeconds
// below 1 is treated as 1.
func Retarget(currentDifficulty float64, elapsedSeconds int64) float64 {
	if elapsedSeconds < 1 {
		elapsedSeconds = 1
	}

	avg := float64(elapsedSeconds) / float64(chainparams.BlocksPerAdjustment)
	ratio := chainparams.BlockTime.Seconds() / avg
	ratio = ClampRatio(ratio)

	return HashrateToDifficulty(Hashrate(currentDifficulty) * ratio)
}

// ShouldRetarget reports whether the block at height id sits on a retarget
// boundary, per spec.md §4.2: id % BlocksPerAdjustment == 0 and id > 0.
func ShouldRetarget(id int64) bool {
	return id > 0 && id%chainparams.BlocksPerAdjustment == 0
}
