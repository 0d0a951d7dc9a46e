package market

import "time"

// TradingSession identifies the active forex/equity session for a UTC instant
type TradingSession string

const (
	SessionAsian   TradingSession = "ASIAN"
	SessionLondon  TradingSession = "LONDON"
	SessionOverlap TradingSession = "OVERLAP"
	SessionNewYork TradingSession = "NEW_YORK"
	SessionNYClose TradingSession = "NY_CLOSE"
)

// SessionFromTime maps a timestamp to its trading session using UTC hours:
// London 07-12, London/NY overlap 12-16, New York 16-21, NY close 21-23,
// Asian 23-07.
func SessionFromTime(t time.Time) TradingSession {
	hour := t.UTC().Hour()
	switch {
	case hour >= 7 && hour < 12:
		return SessionLondon
	case hour >= 12 && hour < 16:
		return SessionOverlap
	case hour >= 16 && hour < 21:
		return SessionNewYork
	case hour >= 21 && hour < 23:
		return SessionNYClose
	default:
		return SessionAsian
	}
}
