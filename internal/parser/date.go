package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	reISODate    = regexp.MustCompile(`\b(\d{4})[-/](\d{1,2})[-/](\d{1,2})\b`)
	reGluedDate  = regexp.MustCompile(`(?i)\b([0-9OIl]{1,2})[\s\-/.]?([A-Z0-9]{3})[\s\-/.]?([0-9OIl]{4}|[0-9OIl]{2})\b`)
	reSpelledDMY = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(` + monthNames + `)\.?,?\s+(\d{4}|\d{2})\b`)
	reSpelledMDY = regexp.MustCompile(`(?i)\b(` + monthNames + `)\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4}|\d{2})\b`)
	reNumDate    = regexp.MustCompile(`\b(\d{1,2})[/\-.](\d{1,2})[/\-.](\d{4}|\d{2})\b`)
	reTime       = regexp.MustCompile(`(?i)\b(\d{1,2}):(\d{2})(?::(\d{2}))?\s*([ap]\.?m\.?)?`)

	months = map[string]time.Month{
		"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
		"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
		"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
	}

	// Characters OCR commonly swaps for letters inside a month abbreviation.
	letterConfusions = strings.NewReplacer("0", "O", "1", "I", "5", "S", "8", "B", "6", "G", "4", "A")
	digitConfusions  = strings.NewReplacer("O", "0", "o", "0", "I", "1", "i", "1", "l", "1", "L", "1")
)

const monthNames = `january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec`

type dateMatcher func(line string, monthFirst bool) (time.Time, bool)

// ExtractDate returns the purchase date. Formats are tried in order (ISO, glued OCR month
// forms, spelled months, numeric) and, across all of them, a line that also carries a time
// wins over one that does not. Numeric dates are read day-first unless monthFirst is set or
// the day-first reading is impossible.
func ExtractDate(lines []string, monthFirst bool) *time.Time {
	matchers := []dateMatcher{isoDate, gluedDate, spelledDate, numericDate}

	var first *time.Time
	for _, match := range matchers {
		for _, line := range lines {
			d, ok := match(line, monthFirst)
			if !ok {
				continue
			}
			if h, m, s, ok := timeOf(line); ok {
				t := time.Date(d.Year(), d.Month(), d.Day(), h, m, s, 0, time.UTC)
				return &t
			}
			if first == nil {
				t := d
				first = &t
			}
		}
	}
	return first
}

func isoDate(line string, _ bool) (time.Time, bool) {
	m := reISODate.FindStringSubmatch(line)
	if m == nil {
		return time.Time{}, false
	}
	return buildDate(atoi(m[1]), atoi(m[2]), atoi(m[3]))
}

func gluedDate(line string, _ bool) (time.Time, bool) {
	for _, m := range reGluedDate.FindAllStringSubmatch(line, -1) {
		month, ok := months[strings.ToLower(letterConfusions.Replace(strings.ToUpper(m[2])))]
		if !ok {
			continue
		}
		day := atoi(digitConfusions.Replace(m[1]))
		year := atoi(digitConfusions.Replace(m[3]))
		if t, ok := buildDate(year, int(month), day); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func spelledDate(line string, _ bool) (time.Time, bool) {
	if m := reSpelledDMY.FindStringSubmatch(line); m != nil {
		if t, ok := buildDate(atoi(m[3]), int(monthByName(m[2])), atoi(m[1])); ok {
			return t, true
		}
	}
	if m := reSpelledMDY.FindStringSubmatch(line); m != nil {
		return buildDate(atoi(m[3]), int(monthByName(m[1])), atoi(m[2]))
	}
	return time.Time{}, false
}

func numericDate(line string, monthFirst bool) (time.Time, bool) {
	for _, m := range reNumDate.FindAllStringSubmatch(line, -1) {
		a, b, year := atoi(m[1]), atoi(m[2]), atoi(m[3])
		day, month := a, b
		if monthFirst {
			day, month = b, a
		}
		if month > 12 && day <= 12 {
			day, month = month, day
		}
		if t, ok := buildDate(year, month, day); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func timeOf(line string) (int, int, int, bool) {
	m := reTime.FindStringSubmatch(line)
	if m == nil {
		return 0, 0, 0, false
	}
	h, mi, sec := atoi(m[1]), atoi(m[2]), atoi(m[3])
	if suffix := strings.ToLower(strings.ReplaceAll(m[4], ".", "")); suffix != "" {
		if h < 1 || h > 12 {
			return 0, 0, 0, false
		}
		if suffix == "pm" && h != 12 {
			h += 12
		} else if suffix == "am" && h == 12 {
			h = 0
		}
	}
	if h > 23 || mi > 59 || sec > 59 {
		return 0, 0, 0, false
	}
	return h, mi, sec, true
}

func monthByName(name string) time.Month {
	name = strings.ToLower(name)
	if len(name) > 3 {
		name = name[:3]
	}
	return months[name]
}

func buildDate(year, month, day int) (time.Time, bool) {
	if year < 100 {
		year += 2000
	}
	if year < 1990 || year > 2099 || month < 1 || month > 12 || day < 1 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
