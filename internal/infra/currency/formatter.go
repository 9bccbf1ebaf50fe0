package currency

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"shop-fulfillment/internal/domain/model"
)

var _ model.PriceFormatter = (*Formatter)(nil)

// Formatter renders minor-unit amounts. An unknown or empty currency falls
// back to the configured default.
type Formatter struct {
	printer       *message.Printer
	fallback      currency.Unit
	siteMoneyName string
}

func NewFormatter(locale, defaultCurrency, siteMoneyName string) (*Formatter, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	unit, err := currency.ParseISO(strings.ToUpper(defaultCurrency))
	if err != nil {
		return nil, fmt.Errorf("default currency %q: %w", defaultCurrency, err)
	}
	if siteMoneyName == "" {
		siteMoneyName = "credits"
	}
	return &Formatter{printer: message.NewPrinter(tag), fallback: unit, siteMoneyName: siteMoneyName}, nil
}

// FormatSiteMoney prints whole site-money units, e.g. "1,500 credits".
func (f *Formatter) FormatSiteMoney(amount int64) string {
	return f.printer.Sprintf("%d %s", amount, f.siteMoneyName)
}

func (f *Formatter) FormatCurrency(amount int64, iso string) string {
	unit := f.fallback
	if iso != "" {
		if u, err := currency.ParseISO(strings.ToUpper(iso)); err == nil {
			unit = u
		}
	}
	return f.printer.Sprint(currency.Symbol(unit.Amount(MajorUnits(amount, unit))))
}

// Scale is the number of minor-unit digits of unit (2 for USD, 0 for JPY).
func Scale(unit currency.Unit) int {
	scale, _ := currency.Standard.Rounding(unit)
	return scale
}

// MajorUnits converts a minor-unit amount to the unit's major denomination.
func MajorUnits(amount int64, unit currency.Unit) float64 {
	return float64(amount) / math.Pow10(Scale(unit))
}
