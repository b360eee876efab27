package orchestrator

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/synthvault/collateral-engine/internal/model"
)

// Risk responses arrive as free text from the compute service, e.g.
// "RATIO:145 CONFIDENCE:85 SOURCE:model-v3". The extraction only requires
// an integer ratio token and an integer confidence token somewhere in the
// text; everything around them is ignored. A missing token is a parse
// failure, never a crash.
var (
	ratioPattern      = regexp.MustCompile(`(?i)\b(?:COLLATERAL_RATIO|RATIO|RATE)\s*[:=]?\s*(\d+)`)
	confidencePattern = regexp.MustCompile(`(?i)\b(?:CONFIDENCE|CONF|SCORE)\s*[:=]?\s*(\d+)`)
)

// parseResponse extracts (ratioBps, confidence) from a response string.
// Ratio tokens below 1000 are read as whole percent (145 -> 14500 bps);
// larger tokens are taken as basis points directly.
func parseResponse(s string) (int64, int64, error) {
	rm := ratioPattern.FindStringSubmatch(s)
	if rm == nil {
		return 0, 0, fmt.Errorf("%w: no ratio token", model.ErrParseFailure)
	}
	cm := confidencePattern.FindStringSubmatch(s)
	if cm == nil {
		return 0, 0, fmt.Errorf("%w: no confidence token", model.ErrParseFailure)
	}

	ratio, err := strconv.ParseInt(rm[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: ratio %q", model.ErrParseFailure, rm[1])
	}
	confidence, err := strconv.ParseInt(cm[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: confidence %q", model.ErrParseFailure, cm[1])
	}

	if ratio < 1000 {
		ratio *= 100
	}
	return ratio, confidence, nil
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
