// Package matching implements the pairing core: a pure compatibility engine
// deciding whether two queue entries may be matched, and the orchestrator
// that admits users, searches for counterparts, claims both sides atomically,
// bills filter usage, and records the resulting call session.
package matching

import (
	"github.com/DishantPal/meetmingle-api/internal/queue"
)

// Compatible reports whether two queue entries may be paired. Matching is
// mutual: each side's filters, if set, must be satisfied by the other side's
// snapshot attributes. Call type equality and block relations are enforced
// upstream in the candidate query and are not re-checked here.
func Compatible(a, b *queue.Entry) bool {
	if !filtersSatisfiedBy(a.Filters, b.Attrs) {
		return false
	}
	if !filtersSatisfiedBy(b.Filters, a.Attrs) {
		return false
	}
	return interestsOverlap(a.Attrs.Interests, b.Attrs.Interests)
}

// filtersSatisfiedBy checks one direction: every filter the requester set
// must equal (or, for age, contain) the counterpart's snapshot attribute.
// Unset filters pass any value.
func filtersSatisfiedBy(f queue.Filters, attrs queue.Attributes) bool {
	if f.Gender != "" && f.Gender != attrs.Gender {
		return false
	}
	if f.Language != "" && f.Language != attrs.Language {
		return false
	}
	if f.Country != "" && f.Country != attrs.Country {
		return false
	}
	if f.State != "" && f.State != attrs.State {
		return false
	}
	if f.HasAge() && (attrs.Age < f.AgeMin || attrs.Age > f.AgeMax) {
		return false
	}
	return true
}

// interestsOverlap requires at least one shared interest when both sides
// listed interests. If either side listed none, interests do not constrain
// the match.
func interestsOverlap(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(a))
	for _, tag := range a {
		set[tag] = struct{}{}
	}
	for _, tag := range b {
		if _, ok := set[tag]; ok {
			return true
		}
	}
	return false
}
