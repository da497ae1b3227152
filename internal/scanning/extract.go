package scanning

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// everything except letters, digits, the euro sign, period, colon and space
	receiptNoise = regexp.MustCompile(`[^\p{L}0-9€.: ]`)
	// optional currency prefix, 1-3 leading digits, a decimal point, 1-2 trailing digits
	amountRe = regexp.MustCompile(`(?:€|EUR)?(\d{1,3}\.\d{1,2})`)
)

// Extraction holds the structured fields recovered from OCR text
type Extraction struct {
	Store  Retailer
	Amount decimal.NullDecimal
}

// ExtractFields parses raw OCR text into a store and the largest monetary amount found.
// The first line naming a known retailer wins; with no match the store is Other.
// The amount is the maximum currency-shaped value across the whole document, on the
// assumption that the receipt total is its largest figure.
func ExtractFields(text string) Extraction {
	lines := receiptLines(text)
	return Extraction{
		Store:  matchRetailer(lines),
		Amount: maxAmount(lines),
	}
}

// receiptLines uppercases the text, strips noise characters and drops empty lines
func receiptLines(text string) []string {
	raw := strings.Split(strings.ToUpper(text), "\n")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		l := strings.TrimSpace(receiptNoise.ReplaceAllString(r, ""))
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

func matchRetailer(lines []string) Retailer {
	for _, l := range lines {
		for _, r := range KnownRetailers {
			if strings.Contains(l, strings.ToUpper(string(r))) {
				return r
			}
		}
	}
	return Other
}

func maxAmount(lines []string) decimal.NullDecimal {
	var best decimal.NullDecimal
	for _, l := range lines {
		for _, m := range amountRe.FindAllStringSubmatch(l, -1) {
			v, err := decimal.NewFromString(m[1])
			if err != nil {
				continue
			}
			if !best.Valid || v.GreaterThan(best.Decimal) {
				best = decimal.NewNullDecimal(v)
			}
		}
	}
	return best
}
