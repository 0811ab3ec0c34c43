package lifecycle

import (
	"strings"

	"custody_tracker/internal/apperr"
	"custody_tracker/internal/models"
)

// StageSet is one of the two custody enumerations a task can follow. The
// canonical order lives in an explicit rank table, never in slice position of
// stored data.
type StageSet struct {
	tag   models.StageSetTag
	order []models.EventType
	rank  map[models.EventType]int
	// last stage of the travel leg; the travel-time rule only looks at events
	// up to and including it
	arrival models.EventType
}

var (
	FiveStage = newStageSet(models.StageSetFive, models.EventArrival,
		models.EventPickup, models.EventArrival, models.EventSealOpen, models.EventSealClose, models.EventSubmission)
	LegacyThreeStage = newStageSet(models.StageSetLegacy, models.EventFinal,
		models.EventPickup, models.EventTransit, models.EventFinal)
)

func newStageSet(tag models.StageSetTag, arrival models.EventType, order ...models.EventType) StageSet {
	rank := make(map[models.EventType]int, len(order))
	for i, t := range order {
		rank[t] = i
	}
	return StageSet{tag: tag, order: order, rank: rank, arrival: arrival}
}

func (s StageSet) Tag() models.StageSetTag {
	return s.tag
}

// Required returns the event types a task must record to complete, in
// canonical order.
func (s StageSet) Required() []models.EventType {
	return append([]models.EventType(nil), s.order...)
}

func (s StageSet) Contains(t models.EventType) bool {
	_, ok := s.rank[t]
	return ok
}

// Rank is the canonical position of t, or -1.
func (s StageSet) Rank(t models.EventType) int {
	if r, ok := s.rank[t]; ok {
		return r
	}
	return -1
}

// Predecessors lists the stages that must be accepted before t.
func (s StageSet) Predecessors(t models.EventType) []models.EventType {
	r := s.Rank(t)
	if r <= 0 {
		return nil
	}
	return append([]models.EventType(nil), s.order[:r]...)
}

func (s StageSet) onTravelLeg(t models.EventType) bool {
	r := s.Rank(t)
	return r >= 0 && r <= s.Rank(s.arrival)
}

// StageSetFor maps a stored tag back to its set.
func StageSetFor(tag models.StageSetTag) (StageSet, bool) {
	switch tag {
	case models.StageSetFive:
		return FiveStage, true
	case models.StageSetLegacy:
		return LegacyThreeStage, true
	}
	return StageSet{}, false
}

// ParseEventType accepts any member of either enumeration, case-insensitively.
func ParseEventType(raw string) (models.EventType, error) {
	t := models.EventType(strings.ToUpper(strings.TrimSpace(raw)))
	if FiveStage.Contains(t) || LegacyThreeStage.Contains(t) {
		return t, nil
	}
	return "", apperr.Validation("unknown event type %q", raw)
}

// ParseStageSet accepts the stored tag names; empty means unresolved.
func ParseStageSet(raw string) (models.StageSetTag, error) {
	tag := models.StageSetTag(strings.ToLower(strings.TrimSpace(raw)))
	if tag == models.StageSetUnresolved {
		return tag, nil
	}
	if _, ok := StageSetFor(tag); !ok {
		return "", apperr.Validation("unknown stage set %q", raw)
	}
	return tag, nil
}

// ResolveStageSet returns the tag a task carries after accepting an event of
// type t. A resolved tag never changes; an event outside it is rejected. An
// unresolved task stays unresolved while it only sees types shared by both
// sets.
func ResolveStageSet(current models.StageSetTag, t models.EventType) (models.StageSetTag, error) {
	if set, ok := StageSetFor(current); ok {
		if !set.Contains(t) {
			return current, apperr.Validation("event type %s is not part of the %s chain", t, current)
		}
		return current, nil
	}
	inFive, inLegacy := FiveStage.Contains(t), LegacyThreeStage.Contains(t)
	switch {
	case inFive && inLegacy:
		return models.StageSetUnresolved, nil
	case inFive:
		return models.StageSetFive, nil
	case inLegacy:
		return models.StageSetLegacy, nil
	}
	return current, apperr.Validation("unknown event type %q", t)
}

// CanonicalRank orders events of a possibly unresolved task. Shared and
// five-stage types use their five-stage rank; legacy-only types use theirs.
func CanonicalRank(tag models.StageSetTag, t models.EventType) int {
	if set, ok := StageSetFor(tag); ok {
		return set.Rank(t)
	}
	if r := FiveStage.Rank(t); r >= 0 {
		return r
	}
	return LegacyThreeStage.Rank(t)
}
