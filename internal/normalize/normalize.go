package normalize

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"lsr-dashboard-backend/internal/lsr"
	"lsr-dashboard-backend/internal/snapshot"
)

// Sentinels returned when a loosely structured field cannot be parsed.
// Callers treat these as values, never as errors.
const (
	AddressNotFound         = "Адрес не распознан"
	PersonalAccountNotFound = "Л/с не найден"
	PaymentStatusUnknown    = "Unknown"
)

// DateLayout is the dd.mm.yyyy format all upstream reading dates use.
const DateLayout = "02.01.2006"

var (
	spanRe            = regexp.MustCompile(`(?s)<span[^>]*>(.*?)</span>`)
	tagRe             = regexp.MustCompile(`<[^>]+>`)
	personalAccountRe = regexp.MustCompile(`Л/с №(\d+)`)
	accrualAmountRe   = regexp.MustCompile(`Начислено\s*([\d.,]+)`)
)

// StripTags removes any markup fragments from a presentation field.
func StripTags(s string) string {
	return tagRe.ReplaceAllString(s, "")
}

// PaymentStatus extracts the payment status from the account's
// custom-field table: the first visible row wins, with an enclosing
// span stripped if present.
func PaymentStatus(fields lsr.FieldTable) string {
	for _, row := range fields.Rows {
		if row.IsVisible == nil || !*row.IsVisible || len(row.Cells) == 0 {
			continue
		}
		value := row.Cells[0].Value
		if m := spanRe.FindStringSubmatch(value); m != nil {
			return strings.TrimSpace(m[1])
		}
		return strings.TrimSpace(value)
	}
	return PaymentStatusUnknown
}

// Address pulls the street address out of the markup span embedded in
// the account list's custom-field block.
func Address(fields lsr.FieldTable) string {
	if len(fields.Rows) == 0 || len(fields.Rows[0].Cells) == 0 {
		return AddressNotFound
	}
	if m := spanRe.FindStringSubmatch(fields.Rows[0].Cells[0].Value); m != nil {
		return strings.TrimSpace(m[1])
	}
	return AddressNotFound
}

// PersonalAccountNumber extracts the digits of the "Л/с №…" pattern
// from the account title.
func PersonalAccountNumber(title string) string {
	if m := personalAccountRe.FindStringSubmatch(title); m != nil {
		return m[1]
	}
	return PersonalAccountNotFound
}

// MergeMeterHistory merges a meter's reading history with its last
// known reading into one date-keyed sequence, sorted ascending by
// dd.mm.yyyy date. The last reading wins when it shares a date with a
// history entry. An unparsable date is a hard error: downstream
// consumers assume sortable history.
func MergeMeterHistory(items []lsr.MeterValueItem, last lsr.LastMeterValue) ([]snapshot.MeterReading, error) {
	byDate := make(map[string]float64)
	for _, item := range items {
		if item.Value1.Value == "" || item.DateList == "" {
			continue
		}
		value, err := parseDecimal(item.Value1.Value)
		if err != nil {
			continue
		}
		byDate[item.DateList] = value
	}

	if last.ListValue != "" && last.DateList != "" {
		if value, err := parseDecimal(last.ListValue); err == nil {
			byDate[last.DateList] = value
		}
	}

	readings := make([]snapshot.MeterReading, 0, len(byDate))
	dates := make(map[string]time.Time, len(byDate))
	for dateStr, value := range byDate {
		parsed, err := time.Parse(DateLayout, dateStr)
		if err != nil {
			return nil, fmt.Errorf("unparsable reading date %q: %w", dateStr, err)
		}
		dates[dateStr] = parsed
		readings = append(readings, snapshot.MeterReading{Date: dateStr, Value: value})
	}

	sort.Slice(readings, func(i, j int) bool {
		return dates[readings[i].Date].Before(dates[readings[j].Date])
	})
	return readings, nil
}

// CalibrationDate finds the meter's poverka (calibration) date among
// its custom-field rows. Returns "" when the marker row is absent or
// the value is the "not specified" sentinel.
func CalibrationDate(fields lsr.FieldTable) string {
	for _, row := range fields.Rows {
		if len(row.Cells) == 0 {
			continue
		}
		value := row.Cells[0].Value
		if !strings.Contains(strings.ToLower(value), "поверки") {
			continue
		}
		text := StripTags(value)
		if idx := strings.Index(text, ": "); idx >= 0 {
			date := strings.TrimSuffix(text[idx+2:], ".")
			if strings.EqualFold(date, "Не указана") {
				return ""
			}
			return date
		}
		return ""
	}
	return ""
}

// MeterUnit maps the upstream meter type code to its measurement unit.
// Unrecognized types have no unit.
func MeterUnit(typeCode string) string {
	switch typeCode {
	case "HotWater", "ColdWater":
		return "m³"
	case "Heating":
		return "Gcal"
	case "Electricity":
		return "kWh"
	default:
		return ""
	}
}

// AccrualAmount parses the accrued amount out of an accrual list cell
// ("Начислено 1 234,56" with markup around it).
func AccrualAmount(cell string) (float64, bool) {
	text := StripTags(cell)
	m := accrualAmountRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	value, err := parseDecimal(m[1])
	if err != nil {
		return 0, false
	}
	return value, true
}

// AccrualDate extracts the plain-text date from an accrual list cell.
func AccrualDate(cell string) string {
	return strings.TrimSpace(StripTags(cell))
}

// parseDecimal converts an upstream numeric string, replacing the
// locale decimal comma with a point.
func parseDecimal(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
}
