package domain

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
)

const (
	// TotalDays is the length of the project week.
	TotalDays = 5
	// InitialEnergy is the energy a fresh class starts with.
	InitialEnergy = 100
	// MaxEnergy bounds the energy resource.
	MaxEnergy = 100
	// DefaultVolume applies to a device that never changed its volume.
	DefaultVolume = 0.3
)

// StringSet is a membership set serialized as a JSON object of true values,
// which is how the hosted store represents sets.
type StringSet map[string]bool

// Has reports membership.
func (s StringSet) Has(key string) bool {
	return s[key]
}

// Keys returns the members in sorted order.
func (s StringSet) Keys() []string {
	keys := make([]string, 0, len(s))
	for k, v := range s {
		if v {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// SessionState is the per-class progress through the curriculum.
// Volume is device-local and never written to the shared store.
type SessionState struct {
	CurrentDay     int       `json:"currentDay"`
	Energy         int       `json:"energy"`
	CompletedSteps StringSet `json:"completedSteps"`
	CompletedDays  []int     `json:"completedDays"`
	UsedEnergizers []string  `json:"usedEnergizers"`
	IntroCompleted bool      `json:"introCompleted"`
	DayIntroSeen   StringSet `json:"dayIntroSeen"`
	Volume         float64   `json:"volume,omitempty"`
}

// DefaultSessionState returns the schema defaults with every collection materialized.
func DefaultSessionState() SessionState {
	return SessionState{
		CurrentDay:     1,
		Energy:         InitialEnergy,
		CompletedSteps: StringSet{},
		CompletedDays:  []int{},
		UsedEnergizers: []string{},
		DayIntroSeen:   StringSet{},
		Volume:         DefaultVolume,
	}
}

// Clone returns a deep copy.
func (s SessionState) Clone() SessionState {
	out := s
	out.CompletedSteps = cloneSet(s.CompletedSteps)
	out.DayIntroSeen = cloneSet(s.DayIntroSeen)
	out.CompletedDays = append(make([]int, 0, len(s.CompletedDays)), s.CompletedDays...)
	out.UsedEnergizers = append(make([]string, 0, len(s.UsedEnergizers)), s.UsedEnergizers...)
	return out
}

// RemoteCopy is the form written to the shared store: a deep copy without the
// device-local volume and with every collection non-nil.
func (s SessionState) RemoteCopy() SessionState {
	out := s.Clone()
	out.Volume = 0
	return out
}

// CompleteStep marks a step as done. It reports false when it already was.
func (s *SessionState) CompleteStep(stepID string) bool {
	if stepID == "" || s.CompletedSteps.Has(stepID) {
		return false
	}
	if s.CompletedSteps == nil {
		s.CompletedSteps = StringSet{}
	}
	s.CompletedSteps[stepID] = true
	return true
}

// CompleteDay records a finished day once.
func (s *SessionState) CompleteDay(day int) bool {
	if day < 1 || day > TotalDays {
		return false
	}
	for _, d := range s.CompletedDays {
		if d == day {
			return false
		}
	}
	s.CompletedDays = append(s.CompletedDays, day)
	return true
}

// UnlockNextDay advances CurrentDay by one, up to TotalDays.
func (s *SessionState) UnlockNextDay() bool {
	if s.CurrentDay >= TotalDays {
		return false
	}
	s.CurrentDay++
	return true
}

// SpendEnergy subtracts n, never going below zero.
func (s *SessionState) SpendEnergy(n int) {
	s.Energy = clampInt(s.Energy-n, 0, MaxEnergy)
}

// RestoreEnergy adds n, never exceeding MaxEnergy.
func (s *SessionState) RestoreEnergy(n int) {
	s.Energy = clampInt(s.Energy+n, 0, MaxEnergy)
}

// UseEnergizer records an energizer so it is not picked again.
func (s *SessionState) UseEnergizer(id string) bool {
	if id == "" {
		return false
	}
	for _, used := range s.UsedEnergizers {
		if used == id {
			return false
		}
	}
	s.UsedEnergizers = append(s.UsedEnergizers, id)
	return true
}

// NextEnergizer picks a random candidate that has not been used yet.
func (s SessionState) NextEnergizer(candidates []string, rnd *rand.Rand) (string, bool) {
	used := make(map[string]struct{}, len(s.UsedEnergizers))
	for _, id := range s.UsedEnergizers {
		used[id] = struct{}{}
	}
	var open []string
	for _, id := range candidates {
		if _, ok := used[id]; !ok {
			open = append(open, id)
		}
	}
	if len(open) == 0 {
		return "", false
	}
	if rnd == nil {
		return open[rand.IntN(len(open))], true
	}
	return open[rnd.IntN(len(open))], true
}

// MarkDayIntroSeen records that the intro of a day was shown. It reports
// whether the set changed.
func (s *SessionState) MarkDayIntroSeen(day int) bool {
	key := strconv.Itoa(day)
	if s.DayIntroSeen.Has(key) {
		return false
	}
	if s.DayIntroSeen == nil {
		s.DayIntroSeen = StringSet{}
	}
	s.DayIntroSeen[key] = true
	return true
}

// DecodeSessionState parses a raw store value. It reports false for an absent
// node (empty input or JSON null); any other input yields a fully shaped state.
func DecodeSessionState(raw []byte) (SessionState, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return SessionState{}, false
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return DefaultSessionState(), true
	}
	if decoded == nil {
		return SessionState{}, false
	}
	return MergeWithDefaults(decoded), true
}

// MergeWithDefaults shapes an arbitrary decoded remote value into a SessionState.
// Every field is defaulted independently: absent or wrongly typed values fall
// back to the default, collections always come out non-nil. Volume is never
// taken from the remote value.
func MergeWithDefaults(remote any) SessionState {
	state := DefaultSessionState()
	fields, ok := remote.(map[string]any)
	if !ok {
		return state
	}
	if day, ok := asInt(fields["currentDay"]); ok && day >= 1 {
		state.CurrentDay = min(day, TotalDays)
	}
	if energy, ok := asInt(fields["energy"]); ok {
		state.Energy = clampInt(energy, 0, MaxEnergy)
	}
	if b, ok := fields["introCompleted"].(bool); ok {
		state.IntroCompleted = b
	}
	if set, ok := asSet(fields["completedSteps"]); ok {
		state.CompletedSteps = set
	}
	if set, ok := asSet(fields["dayIntroSeen"]); ok {
		state.DayIntroSeen = set
	}
	if items, ok := asList(fields["completedDays"]); ok {
		days := make([]int, 0, len(items))
		for _, item := range items {
			if d, ok := asInt(item); ok {
				days = append(days, d)
			}
		}
		state.CompletedDays = days
	}
	if items, ok := asList(fields["usedEnergizers"]); ok {
		ids := make([]string, 0, len(items))
		for _, item := range items {
			if id, ok := item.(string); ok && id != "" {
				ids = append(ids, id)
			}
		}
		state.UsedEnergizers = ids
	}
	return state
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(math.Round(n)), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return int(math.Round(f)), true
	default:
		return 0, false
	}
}

// asSet accepts a JSON object; members are keys whose value is not false/null.
func asSet(v any) (StringSet, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	set := make(StringSet, len(obj))
	for k, val := range obj {
		if val == nil {
			continue
		}
		if b, isBool := val.(bool); isBool && !b {
			continue
		}
		set[k] = true
	}
	return set, true
}

// asList accepts a JSON array, or an object with integer keys, which is how the
// hosted store returns sparse arrays.
func asList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		out := make([]any, 0, len(list))
		for _, item := range list {
			if item != nil {
				out = append(out, item)
			}
		}
		return out, true
	case map[string]any:
		idx := make([]int, 0, len(list))
		for k := range list {
			i, err := strconv.Atoi(k)
			if err != nil || i < 0 {
				return nil, false
			}
			idx = append(idx, i)
		}
		sort.Ints(idx)
		out := make([]any, 0, len(idx))
		for _, i := range idx {
			if item := list[strconv.Itoa(i)]; item != nil {
				out = append(out, item)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

func cloneSet(s StringSet) StringSet {
	out := make(StringSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
