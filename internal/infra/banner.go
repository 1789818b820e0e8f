package infra

import (
	"fmt"
	"io"
	"strings"
)

// ANSI Color Codes
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
)

// PrintBanner writes the startup banner with mode-specific warnings
func PrintBanner(w io.Writer, cfg *Config) {
	mode := strings.ToUpper(cfg.Trading.Mode)
	venue := strings.ToUpper(cfg.Trading.Venue)

	color := ColorGreen
	modeDesc := "NO ENTRIES UNTIL ENABLED"
	switch mode {
	case "LIVE":
		color = ColorRed
		modeDesc = "ORDERS SENT TO VENUE"
	case "DRY_RUN":
		color = ColorYellow
		modeDesc = "ORDERS LOGGED, NOT SENT"
	}
	if venue == "PAPER" && mode == "LIVE" {
		color = ColorCyan
		modeDesc = "ORDERS FILLED BY PAPER VENUE"
	}

	line := func(format string, args ...any) {
		fmt.Fprintf(w, "%s"+format+"%s\n", append(append([]any{color}, args...), ColorReset)...)
	}
	fmt.Fprintln(w)
	line("###########################################################")
	line("#                                                         #")
	line("#               cross-arb crossed-book trader             #")
	line("#                                                         #")
	line("#   MODE:    %-44s #", mode)
	line("#   TYPE:    %-44s #", modeDesc)
	line("#   VENUE:   %-44s #", venue)
	line("#   PAIRS:   %-44s #", strings.Join(cfg.Instruments, " "))
	line("#   VERSION: %-44s #", cfg.App.Version)
	line("#                                                         #")
	if mode == "LIVE" && venue != "PAPER" {
		fmt.Fprintf(w, "%s#   WARNING: ORDERS GO TO A REAL VENUE                    #%s\n", ColorRed, ColorReset)
	}
	line("###########################################################")
	fmt.Fprintln(w)
}
