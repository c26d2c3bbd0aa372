/*
presets.go - Preset reminder dialog payloads

These functions build the JSON the reminder dialog would post for common
trading reminders. They construct JSON directly so the calendar package
does not depend on the factory.

USAGE:
  body := calendar.EconomicReleaseJSON(calendar.Release{...}, "America/New_York")
  res, err := factory.NewRecordFactory(policy, "UTC").ParseDialog(user, []byte(body))
*/
package calendar

import (
	"encoding/json"

	"github.com/marketclock/reminder-engine/engine"
)

// Release is a scheduled economic release as it appears in the feed.
type Release struct {
	EventID  string
	Name     string
	Currency string
	EpochMs  int64
	Impact   Impact
	Category Category
}

// EconomicReleaseJSON reminds before one release using the impact's default
// offsets, in-app and push.
func EconomicReleaseJSON(r Release, timezone string) string {
	reminders := make([]map[string]interface{}, 0, 3)
	for _, m := range r.Impact.DefaultMinutes() {
		reminders = append(reminders, map[string]interface{}{
			"minutesBefore": m,
			"channels":      map[string]interface{}{"inApp": true, "push": true},
		})
	}
	pj := map[string]interface{}{
		"scope":    "event",
		"timezone": timezone,
		"source":   string(SourceEconomic),
		"event": map[string]interface{}{
			"eventId":  r.EventID,
			"name":     r.Name,
			"currency": r.Currency,
			"epochMs":  r.EpochMs,
			"impact":   string(r.Impact),
			"category": string(r.Category),
		},
		"reminders": reminders,
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// SeriesReleaseJSON reminds before every release of the series the event
// belongs to (every NFP, every CPI print).
func SeriesReleaseJSON(r Release, timezone string, minutesBefore int) string {
	pj := map[string]interface{}{
		"scope":    "series",
		"timezone": timezone,
		"source":   string(SourceEconomic),
		"event": map[string]interface{}{
			"name":     r.Name,
			"currency": r.Currency,
			"epochMs":  r.EpochMs,
			"impact":   string(r.Impact),
			"category": string(r.Category),
		},
		"reminders": []map[string]interface{}{{
			"minutesBefore": minutesBefore,
			"channels":      map[string]interface{}{"inApp": true, "browser": true},
		}},
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// MarketSession is a recurring exchange session.
type MarketSession struct {
	Name      string
	Timezone  string
	LocalDate string // first session, YYYY-MM-DD
	OpenTime  string // HH:MM local
}

// Well-known sessions anchored on a Monday.
var (
	SessionLondon  = MarketSession{Name: "London open", Timezone: "Europe/London", LocalDate: "2025-01-06", OpenTime: "08:00"}
	SessionNewYork = MarketSession{Name: "New York open", Timezone: "America/New_York", LocalDate: "2025-01-06", OpenTime: "09:30"}
	SessionTokyo   = MarketSession{Name: "Tokyo open", Timezone: "Asia/Tokyo", LocalDate: "2025-01-06", OpenTime: "09:00"}
)

// MarketSessionJSON reminds before every daily open of a session. The
// recurrence is anchored in the exchange's zone so the reminder follows
// its DST changes.
func MarketSessionJSON(s MarketSession, minutesBefore int) string {
	event := map[string]interface{}{
		"name":     s.Name,
		"category": string(CategoryMarketHours),
	}
	if loc, err := engine.LoadLocation(s.Timezone); err == nil {
		if at, ok := engine.ParseLocalDateTime(s.LocalDate, s.OpenTime, loc); ok {
			event["epochMs"] = at.UnixMilli()
		}
	}
	pj := map[string]interface{}{
		"scope":    "series",
		"timezone": s.Timezone,
		"source":   string(SourceSessions),
		"event":    event,
		"reminders": []map[string]interface{}{{
			"minutesBefore": minutesBefore,
			"channels":      map[string]interface{}{"inApp": true},
		}},
		"recurrence": map[string]interface{}{
			"enabled":  true,
			"interval": "1D",
			"ends":     map[string]interface{}{"type": "never"},
		},
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// CheckInJSON is a recurring custom reminder, e.g. an end-of-week journal.
func CheckInJSON(ev CustomEventInput, interval string, endsAfter int) string {
	ends := map[string]interface{}{"type": "never"}
	if endsAfter > 0 {
		ends = map[string]interface{}{"type": "after", "count": endsAfter}
	}
	pj := map[string]interface{}{
		"scope":    "event",
		"timezone": ev.Timezone,
		"source":   string(SourceCustom),
		"custom": map[string]interface{}{
			"id":          ev.ID,
			"title":       ev.Title,
			"description": ev.Description,
			"color":       ev.Color,
			"icon":        ev.Icon,
			"localDate":   ev.LocalDate,
			"localTime":   ev.LocalTime,
		},
		"reminders": []map[string]interface{}{{
			"minutesBefore": 0,
			"channels":      map[string]interface{}{"inApp": true, "browser": true},
		}},
		"recurrence": map[string]interface{}{
			"enabled":  true,
			"interval": interval,
			"ends":     ends,
		},
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}
