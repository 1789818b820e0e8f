package domain

import (
	"fmt"
	"strings"
)

// TradingMode gates whether entries are sent.
type TradingMode uint8

const (
	Halted TradingMode = iota
	DryRun
	Live
)

func (m TradingMode) String() string {
	switch m {
	case Halted:
		return "HALTED"
	case DryRun:
		return "DRY_RUN"
	case Live:
		return "LIVE"
	default:
		return "UNKNOWN"
	}
}

// ParseTradingMode accepts HALTED, DRY_RUN (or DRYRUN, PAPER) and LIVE, case-insensitive.
func ParseTradingMode(s string) (TradingMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HALTED", "":
		return Halted, nil
	case "DRY_RUN", "DRYRUN", "PAPER":
		return DryRun, nil
	case "LIVE":
		return Live, nil
	default:
		return Halted, fmt.Errorf("unknown trading mode: %s", s)
	}
}
