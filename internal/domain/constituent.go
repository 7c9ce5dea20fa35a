package domain

import "sort"

// Constituent identifies one of the assets composing the basket.
type Constituent string

const (
	ConstituentGold     Constituent = "gold"
	ConstituentSilver   Constituent = "silver"
	ConstituentPlatinum Constituent = "platinum"
)

// String returns the string representation of Constituent.
func (c Constituent) String() string {
	return string(c)
}

// IsValid checks if the constituent is part of the supported basket composition.
func (c Constituent) IsValid() bool {
	return c == ConstituentGold || c == ConstituentSilver || c == ConstituentPlatinum
}

// SortedConstituents returns the map's constituent keys in stable sorted order.
// Every iteration over constituent maps goes through this so engine results
// are deterministic.
func SortedConstituents[V any](m map[Constituent]V) []Constituent {
	keys := make([]Constituent, 0, len(m))
	for c := range m {
		keys = append(keys, c)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
