package matching

import (
	"testing"

	"github.com/DishantPal/meetmingle-api/internal/queue"
)

func entry(userID int64, attrs queue.Attributes, filters queue.Filters) *queue.Entry {
	return &queue.Entry{
		UserID:   userID,
		CallType: queue.CallTypeVideo,
		Attrs:    attrs,
		Filters:  filters,
		Status:   queue.StatusWaiting,
	}
}

func TestCompatibleNoFilters(t *testing.T) {
	a := entry(1, queue.Attributes{Gender: "male", Age: 25}, queue.Filters{})
	b := entry(2, queue.Attributes{Gender: "female", Age: 40}, queue.Filters{})

	if !Compatible(a, b) {
		t.Fatal("entries without filters should always match")
	}
}

func TestCompatibleMutualGender(t *testing.T) {
	a := entry(1, queue.Attributes{Gender: "male"}, queue.Filters{Gender: "female"})
	b := entry(2, queue.Attributes{Gender: "female"}, queue.Filters{Gender: "male"})

	if !Compatible(a, b) {
		t.Fatal("mutually satisfied gender filters should match")
	}
}

func TestCompatibleOneSidedFailure(t *testing.T) {
	// a wants a female peer, b is male. b has no filters of its own.
	a := entry(1, queue.Attributes{Gender: "female"}, queue.Filters{Gender: "female"})
	b := entry(2, queue.Attributes{Gender: "male"}, queue.Filters{})

	if Compatible(a, b) {
		t.Fatal("a's unsatisfied filter must block the match")
	}
	if Compatible(b, a) {
		t.Fatal("direction must not matter")
	}
}

func TestCompatibleAgeRange(t *testing.T) {
	a := entry(1, queue.Attributes{Age: 30}, queue.Filters{AgeMin: 20, AgeMax: 28})
	b := entry(2, queue.Attributes{Age: 25}, queue.Filters{})

	if !Compatible(a, b) {
		t.Fatal("peer age 25 is inside 20-28")
	}

	c := entry(3, queue.Attributes{Age: 35}, queue.Filters{})
	if Compatible(a, c) {
		t.Fatal("peer age 35 is outside 20-28")
	}
}

func TestCompatibleAgeBoundsInclusive(t *testing.T) {
	a := entry(1, queue.Attributes{Age: 50}, queue.Filters{AgeMin: 25, AgeMax: 25})
	b := entry(2, queue.Attributes{Age: 25}, queue.Filters{})

	if !Compatible(a, b) {
		t.Fatal("age bounds are inclusive")
	}
}

func TestInterestsRequireOverlapWhenBothSet(t *testing.T) {
	a := entry(1, queue.Attributes{Interests: []string{"music", "gaming"}}, queue.Filters{})
	b := entry(2, queue.Attributes{Interests: []string{"cooking", "gaming"}}, queue.Filters{})
	c := entry(3, queue.Attributes{Interests: []string{"hiking"}}, queue.Filters{})

	if !Compatible(a, b) {
		t.Fatal("shared interest should match")
	}
	if Compatible(a, c) {
		t.Fatal("disjoint interests should not match")
	}
}

func TestInterestsEmptySideDoesNotConstrain(t *testing.T) {
	a := entry(1, queue.Attributes{Interests: []string{"music"}}, queue.Filters{})
	b := entry(2, queue.Attributes{}, queue.Filters{})

	if !Compatible(a, b) {
		t.Fatal("a side without interests must not constrain the match")
	}
}

func TestCompatibleCombinedFilters(t *testing.T) {
	a := entry(1,
		queue.Attributes{Gender: "female", Language: "en", Country: "US", Age: 27},
		queue.Filters{Gender: "male", Language: "en", AgeMin: 20, AgeMax: 30})
	b := entry(2,
		queue.Attributes{Gender: "male", Language: "en", Country: "IN", Age: 24},
		queue.Filters{Gender: "female"})

	if !Compatible(a, b) {
		t.Fatal("all filters satisfied in both directions")
	}

	b.Attrs.Language = "hi"
	if Compatible(a, b) {
		t.Fatal("language mismatch must block the match")
	}
}
