package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kaplanlior/beam/pkg/types"
)

// FormatAmount renders an amount in whole coins and groths,
// e.g. "3 beams 250 groths" or "69 groths".
func FormatAmount(v types.Amount) string {
	whole := v / types.Coin
	groths := v % types.Coin
	switch {
	case whole > 0 && groths > 0:
		return fmt.Sprintf("%d beams %d groths", whole, groths)
	case whole > 0:
		return fmt.Sprintf("%d beams", whole)
	default:
		return fmt.Sprintf("%d groths", groths)
	}
}

// ParseAmount parses a decimal coin amount ("1.5") or a raw groth count
// with a "g" suffix ("1500000g") into base units.
func ParseAmount(s string) (types.Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	if strings.HasSuffix(s, "g") {
		groths, err := strconv.ParseUint(strings.TrimSuffix(s, "g"), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid groth amount: %w", err)
		}
		return groths, nil
	}
	parts := strings.SplitN(s, ".", 2)
	whole, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount: %w", err)
	}
	total := whole * types.Coin
	if len(parts) == 2 {
		frac := parts[1]
		// types.Coin has 6 decimal places.
		if len(frac) > 6 {
			return 0, fmt.Errorf("amount has more than 6 decimal places")
		}
		for len(frac) < 6 {
			frac += "0"
		}
		sub, err := strconv.ParseUint(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount: %w", err)
		}
		total += sub
	}
	return total, nil
}
