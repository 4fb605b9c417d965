// Package model defines the route, shelter and analysis types shared by the
// normalizer, analyzer, renderer and simulation driver.
package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Mode is a travel mode understood by the trip planner.
type Mode string

// Supported travel modes.
const (
	ModeWalk    Mode = "walk"
	ModeDrive   Mode = "drive"
	ModeTransit Mode = "transit"
)

// AllModes lists every travel mode in the order results are produced.
var AllModes = []Mode{ModeWalk, ModeDrive, ModeTransit}

// ParseMode converts a case-insensitive mode name to a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case ModeWalk, ModeDrive, ModeTransit:
		return m, nil
	}
	return "", eris.Errorf("model: unknown travel mode %q", s)
}

// ParseModes converts a list of mode names, rejecting duplicates.
func ParseModes(names []string) ([]Mode, error) {
	seen := make(map[Mode]bool, len(names))
	modes := make([]Mode, 0, len(names))
	for _, n := range names {
		m, err := ParseMode(n)
		if err != nil {
			return nil, err
		}
		if seen[m] {
			return nil, eris.Errorf("model: duplicate travel mode %q", n)
		}
		seen[m] = true
		modes = append(modes, m)
	}
	return modes, nil
}

func (m Mode) String() string { return string(m) }
