package domain

// Variant selects which mini-game an activity plays.
type Variant int

const (
	VariantUnknown Variant = iota
	VariantCountTheFruit
	VariantFindMissingLetter
	VariantNameTheColor
)

// Variants lists the playable variants.
var Variants = []Variant{VariantCountTheFruit, VariantFindMissingLetter, VariantNameTheColor}

// ParseVariant maps an activity content string to a Variant.
func ParseVariant(content string) Variant {
	switch content {
	case "count-the-fruit":
		return VariantCountTheFruit
	case "find-the-missing-letter":
		return VariantFindMissingLetter
	case "name-the-color":
		return VariantNameTheColor
	default:
		return VariantUnknown
	}
}

func (v Variant) String() string {
	switch v {
	case VariantCountTheFruit:
		return "count-the-fruit"
	case VariantFindMissingLetter:
		return "find-the-missing-letter"
	case VariantNameTheColor:
		return "name-the-color"
	case VariantUnknown:
		return "unknown"
	default:
		return "unknown"
	}
}

func (v Variant) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Variant) UnmarshalText(text []byte) error {
	*v = ParseVariant(string(text))
	return nil
}
