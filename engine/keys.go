package engine

import (
	"strconv"
	"strings"
)

const (
	unknownSource = "unknown"
	untitled      = "untitled"
	keySeparator  = ":"
	// OccurrenceKeySeparator joins an event key and an occurrence instant.
	OccurrenceKeySeparator = "__"
)

// BuildEventKey derives the key of a single event. It prefers the
// upstream event id, then the primary name, then the normalized fallback
// title suffixed with the epoch when one is known.
func BuildEventKey(id EventIdentity, source string, epochMs *int64, fallbackTitle string) string {
	src := sourceKey(source)
	if eid := strings.TrimSpace(id.EventID); eid != "" {
		return src + keySeparator + eid
	}
	if id.PrimaryNameKey != "" {
		return src + keySeparator + id.PrimaryNameKey
	}
	title := NormalizeKey(fallbackTitle)
	if title == "" {
		title = untitled
	}
	if epochMs != nil {
		return src + keySeparator + title + keySeparator + strconv.FormatInt(*epochMs, 10)
	}
	return src + keySeparator + title
}

// BuildSeriesKey derives the key shared by every event of a series. Missing
// parts render as "n/a" so keys stay positional.
func BuildSeriesKey(id EventIdentity, source, currency, impact, category string) string {
	cur := NormalizeKey(currency)
	if cur == "" {
		cur = id.CurrencyKey
	}
	return strings.Join([]string{
		sourceKey(source),
		"series",
		orNA(id.PrimaryNameKey),
		orNA(cur),
		orNA(NormalizeKey(impact)),
		orNA(NormalizeKey(category)),
	}, keySeparator)
}

// OccurrenceKey derives the key of one instant of a recurring record.
func OccurrenceKey(eventKey string, epochMs int64) string {
	return eventKey + OccurrenceKeySeparator + strconv.FormatInt(epochMs, 10)
}

func sourceKey(source string) string {
	if s := NormalizeKey(source); s != "" {
		return s
	}
	return unknownSource
}

func orNA(s string) string {
	if s == "" {
		return NotApplicable
	}
	return s
}
