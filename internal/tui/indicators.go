package tui

import (
	"strings"
	"time"
)

// Spinner shows event activity with a decaying dot pattern.
type Spinner struct {
	dots      int
	lastEvent time.Time
}

func (s *Spinner) OnEvent(at time.Time) {
	s.dots = 5
	s.lastEvent = at
}

// Decay fades the dots two seconds at a time after the last event.
func (s *Spinner) Decay(now time.Time) {
	if s.dots == 0 {
		return
	}
	faded := int(now.Sub(s.lastEvent) / (2 * time.Second))
	s.dots = max(5-faded, 0)
}

func (s Spinner) Render(theme Theme) string {
	var result strings.Builder
	for i := range 5 {
		if i < s.dots {
			result.WriteString(theme.TickerActive.Render("●"))
		} else {
			result.WriteString(theme.TickerInactive.Render("○"))
		}
	}
	return result.String()
}

func (s Spinner) LastEvent() time.Time {
	return s.lastEvent
}
