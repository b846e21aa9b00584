package reminder

import (
	"fmt"
	"strings"
)

type KindType int

const (
	KindFeeding KindType = iota + 1
	KindSleep
	KindSupplement
	KindDailySummary
	KindVaccine
)

const vaccineTagPrefix = "vaccine:"

// Kind identifies one reminder slot. Occasion is only set for vaccine kinds,
// so every other type has exactly one slot.
type Kind struct {
	Type     KindType
	Occasion string
}

func Feeding() Kind      { return Kind{Type: KindFeeding} }
func Sleep() Kind        { return Kind{Type: KindSleep} }
func Supplement() Kind   { return Kind{Type: KindSupplement} }
func DailySummary() Kind { return Kind{Type: KindDailySummary} }

func Vaccine(occasion string) Kind {
	return Kind{Type: KindVaccine, Occasion: strings.TrimSpace(occasion)}
}

// StaticKinds are the kinds driven purely by settings and patterns.
func StaticKinds() []Kind {
	return []Kind{Feeding(), Sleep(), Supplement(), DailySummary()}
}

// String returns the tag used as dispatcher payload discriminator.
func (k Kind) String() string {
	switch k.Type {
	case KindFeeding:
		return "feeding"
	case KindSleep:
		return "sleep"
	case KindSupplement:
		return "supplement"
	case KindDailySummary:
		return "daily_summary"
	case KindVaccine:
		return vaccineTagPrefix + k.Occasion
	default:
		return fmt.Sprintf("unknown(%d)", int(k.Type))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(tag string) (Kind, error) {
	s := strings.TrimSpace(tag)
	switch s {
	case "feeding":
		return Feeding(), nil
	case "sleep":
		return Sleep(), nil
	case "supplement":
		return Supplement(), nil
	case "daily_summary":
		return DailySummary(), nil
	}
	if strings.HasPrefix(s, vaccineTagPrefix) {
		occ := strings.TrimSpace(strings.TrimPrefix(s, vaccineTagPrefix))
		if occ == "" {
			return Kind{}, fmt.Errorf("vaccine kind %q: occasion required", tag)
		}
		return Vaccine(occ), nil
	}
	return Kind{}, fmt.Errorf("unknown reminder kind %q", tag)
}
