package venue

import "sort"

// DepthPolicy describes which order-book depths an exchange accepts. When
// Accepted is empty any depth up to Max is valid; Max of 0 means unbounded.
type DepthPolicy struct {
	Accepted []int
	Max      int
}

func (p DepthPolicy) sorted() []int {
	out := append([]int(nil), p.Accepted...)
	sort.Ints(out)
	return out
}

// Clamp returns the depth to request for a configured depth: the largest
// accepted value not above it, or the smallest accepted value when every
// accepted value is larger.
func (p DepthPolicy) Clamp(depth int) int {
	if depth < 1 {
		depth = 1
	}
	if len(p.Accepted) == 0 {
		if p.Max > 0 && depth > p.Max {
			return p.Max
		}
		return depth
	}
	accepted := p.sorted()
	chosen := accepted[0]
	for _, a := range accepted {
		if a <= depth {
			chosen = a
		}
	}
	return chosen
}

// Next returns the next larger depth that may be requested after current.
func (p DepthPolicy) Next(current int) (int, bool) {
	if len(p.Accepted) == 0 {
		if p.Max > current {
			return p.Max, true
		}
		return 0, false
	}
	for _, a := range p.sorted() {
		if a > current {
			return a, true
		}
	}
	return 0, false
}

// Valid reports whether depth can be sent to the exchange as is.
func (p DepthPolicy) Valid(depth int) bool {
	if depth < 1 {
		return false
	}
	if len(p.Accepted) == 0 {
		return p.Max == 0 || depth <= p.Max
	}
	for _, a := range p.Accepted {
		if a == depth {
			return true
		}
	}
	return false
}
