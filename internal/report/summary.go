package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const summaryTitle = ":iphone: App Store Download Units Summary"

// Summary is everything the message template needs.
type Summary struct {
	Resolution Resolution
	Totals     []Total
	// Zone names the calendar the dates are in. Defaults to UTC.
	Zone string
	// Reason explains a missing anchor.
	Reason string
	// GeneratedAt adds a timestamp line when set.
	GeneratedAt time.Time
}

// Format renders the summary. Output depends only on s.
func Format(s Summary) string {
	zone := s.Zone
	if zone == "" {
		zone = "UTC"
	}

	var b strings.Builder
	b.WriteString(summaryTitle)
	b.WriteByte('\n')

	if s.Resolution.Found {
		fmt.Fprintf(&b, "Data through: %s (%s)\n", s.Resolution.Anchor, zone)
	} else {
		reason := s.Reason
		if reason == "" {
			reason = "anchor date not found"
		}
		fmt.Fprintf(&b, "Data through: UNKNOWN (%s)\n", reason)
	}

	for _, t := range s.Totals {
		val := "N/A"
		if t.Available {
			val = strconv.FormatInt(t.Units, 10)
		}
		fmt.Fprintf(&b, "• Period %s: %s\n", t.Window.Label(), val)
	}

	if !s.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, "Timestamp: %s\n", s.GeneratedAt.UTC().Format("2006-01-02 15:04 UTC"))
	}
	return strings.TrimSuffix(b.String(), "\n")
}
