package scanning

import "strings"

// Retailer is a store a receipt can be attributed to
type Retailer string

const (
	Tesco     Retailer = "Tesco"
	Dunnes    Retailer = "Dunnes"
	Lidl      Retailer = "Lidl"
	Aldi      Retailer = "Aldi"
	SuperValu Retailer = "SuperValu"
	Centra    Retailer = "Centra"
	Spar      Retailer = "Spar"

	// Other is used when the receipt text names no known retailer
	Other Retailer = "Other"
	// Unknown is used when no store could be determined at all
	Unknown Retailer = "Unknown"
)

// KnownRetailers lists the retailers the field extractor looks for, in match priority order
var KnownRetailers = []Retailer{Tesco, Dunnes, Lidl, Aldi, SuperValu, Centra, Spar}

// SelectableRetailers lists the stores a user may pick when correcting a draft
var SelectableRetailers = append(append([]Retailer{}, KnownRetailers...), Other)

// ParseRetailer maps a user-supplied store name onto a selectable retailer, ignoring case
func ParseRetailer(name string) (Retailer, bool) {
	name = strings.TrimSpace(name)
	for _, r := range SelectableRetailers {
		if strings.EqualFold(string(r), name) {
			return r, true
		}
	}
	return "", false
}

// Logo returns the asset file name used to badge the retailer
func (r Retailer) Logo() string {
	switch r {
	case Tesco:
		return "tesco.png"
	case Dunnes:
		return "dunnes.png"
	case Lidl:
		return "lidl.png"
	case Aldi:
		return "aldi.png"
	case SuperValu:
		return "supervalu.png"
	case Centra:
		return "centra.png"
	case Spar:
		return "spar.png"
	default:
		return "other.png"
	}
}

// OrUnknown returns Unknown for an empty retailer
func (r Retailer) OrUnknown() Retailer {
	if r == "" {
		return Unknown
	}
	return r
}
