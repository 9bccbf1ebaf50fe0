package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/senseyeio/duration"

	"shop-fulfillment/internal/domain"
)

// Period is a calendar billing period (ISO-8601 date part only: P1Y2M10D, P2W).
// Calendar arithmetic is used so "P1M" from Jan 31 follows time.AddDate rules.
type Period struct {
	Years  int
	Months int
	Days   int
}

// ParsePeriod parses an ISO-8601 date duration. An empty string yields nil.
// Weeks fold into days; a time part is rejected.
func ParsePeriod(s string) (*Period, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return nil, nil
	}
	invalid := func(reason string) error {
		return &domain.ValidationError{Field: "billing_period", Reason: fmt.Sprintf("%q: %s", s, reason)}
	}
	d, err := duration.ParseISO8601(s)
	if err != nil {
		return nil, invalid("expected form PnYnMnWnD")
	}
	if d.TH != 0 || d.TM != 0 || d.TS != 0 {
		return nil, invalid("time designators are not supported")
	}
	p := Period{Years: d.Y, Months: d.M, Days: 7*d.W + d.D}
	if p.IsZero() {
		return nil, invalid("period must be positive")
	}
	return &p, nil
}

func (p Period) IsZero() bool { return p.Years == 0 && p.Months == 0 && p.Days == 0 }

// AddTo returns t shifted by the period.
func (p Period) AddTo(t time.Time) time.Time {
	return duration.Duration{Y: p.Years, M: p.Months, D: p.Days}.Shift(t)
}

func (p Period) String() string {
	if p.IsZero() {
		return ""
	}
	var b strings.Builder
	b.WriteByte('P')
	if p.Years > 0 {
		b.WriteString(strconv.Itoa(p.Years) + "Y")
	}
	if p.Months > 0 {
		b.WriteString(strconv.Itoa(p.Months) + "M")
	}
	if p.Days > 0 {
		b.WriteString(strconv.Itoa(p.Days) + "D")
	}
	return b.String()
}

func (p Period) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Period) UnmarshalText(b []byte) error {
	parsed, err := ParsePeriod(string(b))
	if err != nil {
		return err
	}
	if parsed == nil {
		*p = Period{}
		return nil
	}
	*p = *parsed
	return nil
}
