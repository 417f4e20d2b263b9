// Package market_hours provides the trading-session window predicate
// that gates every market tick.
package market_hours

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Window is a fixed daily trading session in local time, weekdays only.
type Window struct {
	OpenHour    int
	OpenMinute  int
	CloseHour   int
	CloseMinute int
}

// Service answers whether the market is open at a given instant.
type Service struct {
	window Window
	log    zerolog.Logger
}

// NewService creates a market hours service for a fixed daily window.
func NewService(window Window, log zerolog.Logger) (*Service, error) {
	open := window.OpenHour*60 + window.OpenMinute
	closing := window.CloseHour*60 + window.CloseMinute
	if open >= closing {
		return nil, fmt.Errorf("invalid market window: open %02d:%02d not before close %02d:%02d",
			window.OpenHour, window.OpenMinute, window.CloseHour, window.CloseMinute)
	}

	return &Service{
		window: window,
		log:    log.With().Str("component", "market_hours").Logger(),
	}, nil
}

// IsOpen returns true when now falls inside the trading window on a weekday.
// The close boundary is exclusive: the closing minute belongs to the
// after-hours session.
func (s *Service) IsOpen(now time.Time) bool {
	switch now.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	minute := now.Hour()*60 + now.Minute()
	open := s.window.OpenHour*60 + s.window.OpenMinute
	closing := s.window.CloseHour*60 + s.window.CloseMinute

	return minute >= open && minute < closing
}

// NextOpen returns the next instant the market opens at or after now.
func (s *Service) NextOpen(now time.Time) time.Time {
	candidate := time.Date(now.Year(), now.Month(), now.Day(),
		s.window.OpenHour, s.window.OpenMinute, 0, 0, now.Location())

	for !candidate.After(now) || !isWeekday(candidate) {
		candidate = candidate.AddDate(0, 0, 1)
	}

	return candidate
}

// Window returns the configured session window.
func (s *Service) Window() Window {
	return s.window
}

func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
