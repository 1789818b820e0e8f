package execution

import (
	"fmt"
	"log/slog"
	"strings"
)

// Venue selects the execution session implementation.
type Venue string

const (
	VenuePaper Venue = "PAPER"
	VenueMock  Venue = "MOCK"
)

// ParseVenue accepts PAPER and MOCK, case-insensitive. Empty means PAPER.
func ParseVenue(s string) (Venue, error) {
	switch v := Venue(strings.ToUpper(strings.TrimSpace(s))); v {
	case "":
		return VenuePaper, nil
	case VenuePaper, VenueMock:
		return v, nil
	default:
		return "", fmt.Errorf("unknown execution venue: %s", s)
	}
}

// NewExecSession returns the session for venue. Reports are delivered to
// sink; journal is optional.
func NewExecSession(venue Venue, sink EventSink, journal Journal) (ExecSession, error) {
	slog.Info("Initializing Execution Session", slog.String("venue", string(venue)))

	switch venue {
	case VenuePaper:
		return NewPaperVenue(sink, journal), nil
	case VenueMock:
		return NewMockSession(), nil
	default:
		return nil, fmt.Errorf("unknown execution venue: %s", venue)
	}
}
