package helpers

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func EscapeMarkdownV2(text string) string {
	charactersToEscape := []string{".", "-", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "=", "|", "{", "}", "!"}

	for _, char := range charactersToEscape {
		text = strings.ReplaceAll(text, char, "\\"+char)
	}
	return text
}

// FormatEth renders a floor price with three decimals, e.g. "42.500 ETH".
func FormatEth(price decimal.Decimal) string {
	return price.StringFixed(3) + " ETH"
}

// FormatUsd renders a dollar amount with thousand separators, e.g. "$1,234,567".
func FormatUsd(amount decimal.Decimal) string {
	return "$" + humanize.CommafWithDigits(amount.InexactFloat64(), 0)
}

func FormatPercent(change float64) string {
	p := message.NewPrinter(language.English)
	return p.Sprintf("%+.2f%%", change)
}

func FormatPriceUS(price float64, escapeMarkdown bool) string {
	decimals := 6

	if price >= 1000 {
		decimals = 0
	} else if price > 1.2 {
		decimals = 2
	} else if price < 0.00001 {
		decimals = 8
	}

	thousandSeparator := ","

	p := message.NewPrinter(language.English)
	withCommaThousandSep := p.Sprintf("%.*f", decimals, price)
	formatted := strings.ReplaceAll(withCommaThousandSep, ",", thousandSeparator)

	if escapeMarkdown {
		return EscapeMarkdownV2(formatted)
	}
	return formatted
}

func FormatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04")
}
