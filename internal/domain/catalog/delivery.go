package catalog

import (
	"strings"

	"github.com/go-faster/errors"
)

// DeliveryMode is one way an order can reach the shopper.
type DeliveryMode uint8

const (
	Ship DeliveryMode = 1 << iota
	Pickup
	LocalDelivery
)

// modeOrder is the default preference when the shopper has not chosen.
var modeOrder = []DeliveryMode{Ship, Pickup, LocalDelivery}

func (m DeliveryMode) String() string {
	switch m {
	case Ship:
		return "ship"
	case Pickup:
		return "pickup"
	case LocalDelivery:
		return "local_delivery"
	default:
		return "unknown"
	}
}

// NeedsStation reports whether the mode requires a station selection.
func (m DeliveryMode) NeedsStation() bool {
	return m == Pickup || m == LocalDelivery
}

// ParseDeliveryMode converts a mode name into a DeliveryMode.
func ParseDeliveryMode(s string) (DeliveryMode, error) {
	for _, m := range modeOrder {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, errors.Errorf("unknown delivery mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m DeliveryMode) MarshalText() ([]byte, error) {
	if m == 0 {
		return nil, nil
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *DeliveryMode) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*m = 0
		return nil
	}
	v, err := ParseDeliveryMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// DeliverySet is a set of delivery modes.
type DeliverySet uint8

// AllDelivery contains every mode.
const AllDelivery = DeliverySet(Ship | Pickup | LocalDelivery)

// NewDeliverySet builds a set from modes.
func NewDeliverySet(modes ...DeliveryMode) DeliverySet {
	var s DeliverySet
	for _, m := range modes {
		s |= DeliverySet(m)
	}
	return s
}

// Has reports whether m is in the set.
func (s DeliverySet) Has(m DeliveryMode) bool {
	return s&DeliverySet(m) != 0
}

// Intersect returns modes present in both sets.
func (s DeliverySet) Intersect(o DeliverySet) DeliverySet {
	return s & o
}

// Empty reports whether the set has no modes.
func (s DeliverySet) Empty() bool {
	return s&AllDelivery == 0
}

// Modes lists the members in preference order.
func (s DeliverySet) Modes() []DeliveryMode {
	var out []DeliveryMode
	for _, m := range modeOrder {
		if s.Has(m) {
			out = append(out, m)
		}
	}
	return out
}

// Default returns the preferred mode of the set, or zero when empty.
func (s DeliverySet) Default() DeliveryMode {
	if modes := s.Modes(); len(modes) > 0 {
		return modes[0]
	}
	return 0
}

func (s DeliverySet) String() string {
	modes := s.Modes()
	parts := make([]string, len(modes))
	for i, m := range modes {
		parts[i] = m.String()
	}
	return strings.Join(parts, ",")
}
