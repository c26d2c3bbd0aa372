// Package calendar implements the trading-calendar side of the reminder
// engine: event sources, impact levels, preset reminder payloads and
// user-created custom events.
package calendar

import "strings"

// =============================================================================
// SOURCES
// =============================================================================

// Source names the calendar an event came from. It is the first segment of
// every event and series key.
type Source string

const (
	SourceEconomic Source = "calendar"
	SourceEarnings Source = "earnings"
	SourceSessions Source = "sessions"
	SourceCustom   Source = "custom"
)

// Sources returns every known source in display order.
func Sources() []Source {
	return []Source{SourceEconomic, SourceEarnings, SourceSessions, SourceCustom}
}

// =============================================================================
// IMPACT
// =============================================================================

// Impact is the expected market impact of an economic release.
type Impact string

const (
	ImpactLow     Impact = "low"
	ImpactMedium  Impact = "medium"
	ImpactHigh    Impact = "high"
	ImpactHoliday Impact = "holiday"
)

// ParseImpact accepts the spellings used by the upstream feeds. Unknown
// values return false.
func ParseImpact(s string) (Impact, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "1":
		return ImpactLow, true
	case "medium", "med", "moderate", "2":
		return ImpactMedium, true
	case "high", "3":
		return ImpactHigh, true
	case "holiday", "non-economic":
		return ImpactHoliday, true
	}
	return "", false
}

// DefaultMinutes returns the reminder offsets suggested for an impact level.
// High-impact releases get an early heads-up as well as a last call.
func (i Impact) DefaultMinutes() []int {
	switch i {
	case ImpactHigh:
		return []int{5, 30, 60}
	case ImpactMedium:
		return []int{15}
	case ImpactHoliday:
		return []int{24 * 60}
	default:
		return []int{5}
	}
}

// =============================================================================
// CATEGORIES
// =============================================================================

// Category groups releases by what they measure.
type Category string

const (
	CategoryEmployment  Category = "employment"
	CategoryInflation   Category = "inflation"
	CategoryGrowth      Category = "growth"
	CategoryCentralBank Category = "central-bank"
	CategoryHousing     Category = "housing"
	CategorySentiment   Category = "sentiment"
	CategoryTrade       Category = "trade"
	CategoryMarketHours Category = "market-hours"
)
