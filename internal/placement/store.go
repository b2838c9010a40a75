package placement

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fastygo/planner/domain"
)

// Store owns the time blocks placed inside plans.
type Store struct {
	mu          sync.RWMutex
	events      map[int64]*domain.ScheduleEvent
	byPlan      map[int64]map[int64]struct{}
	provisional int64
	logger      *zap.Logger
}

func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		events: make(map[int64]*domain.ScheduleEvent),
		byPlan: make(map[int64]map[int64]struct{}),
		logger: logger,
	}
}

// ReserveID hands out a provisional (negative) id for an event the backend has not confirmed yet.
func (s *Store) ReserveID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reserve()
}

func (s *Store) reserve() int64 {
	s.provisional--
	return s.provisional
}

// InsertBulk adds optimizer output for a plan. Either every event is inserted or none is.
func (s *Store) InsertBulk(planID int64, events []domain.ScheduleEvent) ([]domain.ScheduleEvent, error) {
	prepared := make([]domain.ScheduleEvent, 0, len(events))
	for _, ev := range events {
		ev = ev.Clone()
		ev.PlanID = planID
		normalize(&ev)
		if err := ev.Validate(); err != nil {
			return nil, err
		}
		prepared = append(prepared, ev)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int64]struct{}, len(prepared))
	for i := range prepared {
		if prepared[i].ID == 0 {
			prepared[i].ID = s.reserve()
		}
		id := prepared[i].ID
		if _, exists := s.events[id]; exists {
			return nil, domain.Errorf(domain.ErrCodeConflict, "event %d already exists", id)
		}
		if _, dup := seen[id]; dup {
			return nil, domain.Errorf(domain.ErrCodeConflict, "event %d listed twice", id)
		}
		seen[id] = struct{}{}
	}

	out := make([]domain.ScheduleEvent, 0, len(prepared))
	for i := range prepared {
		s.put(prepared[i])
		out = append(out, prepared[i].Clone())
	}
	return out, nil
}

// Create places a single user-made event. User placements are pinned.
func (s *Store) Create(ev domain.ScheduleEvent) (domain.ScheduleEvent, error) {
	ev = ev.Clone()
	normalize(&ev)
	ev.IsManualOverride = true
	if err := ev.Validate(); err != nil {
		return domain.ScheduleEvent{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID == 0 {
		ev.ID = s.reserve()
	}
	if _, exists := s.events[ev.ID]; exists {
		return domain.ScheduleEvent{}, domain.Errorf(domain.ErrCodeConflict, "event %d already exists", ev.ID)
	}
	s.put(ev)
	return ev.Clone(), nil
}

func (s *Store) Get(id int64) (domain.ScheduleEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return domain.ScheduleEvent{}, domain.ErrEventNotFound
	}
	return ev.Clone(), nil
}

func (s *Store) Lookup(id int64) (domain.ScheduleEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return domain.ScheduleEvent{}, false
	}
	return ev.Clone(), true
}

// Move places the event at a new day and minute range and pins it.
func (s *Store) Move(id int64, dateMs int64, startMin, endMin int) (domain.ScheduleEvent, error) {
	if err := domain.ValidateRange(startMin, endMin); err != nil {
		return domain.ScheduleEvent{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return domain.ScheduleEvent{}, domain.ErrEventNotFound
	}
	if !ev.CanBeModified() {
		return domain.ScheduleEvent{}, domain.Errorf(domain.ErrCodeInvalid, "cannot move event with status %s", ev.Status)
	}
	ev.DateMs = domain.DayStart(dateMs)
	ev.StartMin = startMin
	ev.EndMin = endMin
	ev.IsManualOverride = true
	ev.UpdatedAt = now()
	return ev.Clone(), nil
}

// SplitImpact lists the events a split of id rewrites: every part of the same schedule task in the same plan.
func (s *Store) SplitImpact(id int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, domain.ErrEventNotFound
	}
	return s.siblings(ev), nil
}

// Split cuts the event in two at splitPointMin.
func (s *Store) Split(id int64, splitPointMin int) (domain.ScheduleEvent, domain.ScheduleEvent, error) {
	return s.SplitAs(id, splitPointMin, s.ReserveID())
}

// SplitAs splits using a caller-reserved id for the second part.
// The first part keeps the original id; later parts are renumbered to make room.
func (s *Store) SplitAs(id int64, splitPointMin int, secondID int64) (domain.ScheduleEvent, domain.ScheduleEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return domain.ScheduleEvent{}, domain.ScheduleEvent{}, domain.ErrEventNotFound
	}
	if splitPointMin <= ev.StartMin || splitPointMin >= ev.EndMin {
		return domain.ScheduleEvent{}, domain.ScheduleEvent{}, domain.Errorf(domain.ErrCodeInvalidSplitPoint,
			"split point %d not strictly between %d and %d", splitPointMin, ev.StartMin, ev.EndMin)
	}
	if !ev.CanBeModified() {
		return domain.ScheduleEvent{}, domain.ScheduleEvent{}, domain.Errorf(domain.ErrCodeInvalid, "cannot split event with status %s", ev.Status)
	}
	if _, exists := s.events[secondID]; exists || secondID == 0 {
		return domain.ScheduleEvent{}, domain.ScheduleEvent{}, domain.Errorf(domain.ErrCodeConflict, "event id %d unavailable", secondID)
	}

	siblings := s.siblings(ev)
	index := ev.PartIndex
	total := len(siblings) + 1
	ts := now()

	for _, sid := range siblings {
		sib := s.events[sid]
		if sid != id && sib.PartIndex > index {
			sib.PartIndex++
		}
		sib.TotalParts = total
		if sid != id {
			sib.UpdatedAt = ts
		}
	}

	second := ev.Clone()
	second.ID = secondID
	second.StartMin = splitPointMin
	second.PartIndex = index + 1
	second.TotalParts = total
	second.UtilityScore = 0
	second.Utility = nil
	second.ActualStartMin = nil
	second.ActualEndMin = nil
	second.LinkedEventID = &id
	second.IsManualOverride = true
	second.UpdatedAt = ts

	ev.EndMin = splitPointMin
	ev.IsManualOverride = true
	ev.UpdatedAt = ts

	s.put(second)
	s.logger.Debug("event split",
		zap.Int64("event_id", id),
		zap.Int64("second_id", secondID),
		zap.Int("split_point_min", splitPointMin),
		zap.Int("total_parts", total))
	return ev.Clone(), second.Clone(), nil
}

// Complete records the actual times. The utility score is left as scheduled.
func (s *Store) Complete(id int64, actualStartMin, actualEndMin int) (domain.ScheduleEvent, error) {
	if err := domain.ValidateRange(actualStartMin, actualEndMin); err != nil {
		return domain.ScheduleEvent{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return domain.ScheduleEvent{}, domain.ErrEventNotFound
	}
	switch ev.Status {
	case domain.EventScheduled:
	case domain.EventCompleted:
		return domain.ScheduleEvent{}, domain.NewError(domain.ErrCodeInvalid, "event already completed")
	default:
		return domain.ScheduleEvent{}, domain.Errorf(domain.ErrCodeInvalid, "unknown event status %q", ev.Status)
	}
	ev.Status = domain.EventCompleted
	ev.ActualStartMin = domain.IntPtr(actualStartMin)
	ev.ActualEndMin = domain.IntPtr(actualEndMin)
	ev.UpdatedAt = now()
	return ev.Clone(), nil
}

// MarkManualOverride pins the event against automatic re-optimization.
func (s *Store) MarkManualOverride(id int64) (domain.ScheduleEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return domain.ScheduleEvent{}, domain.ErrEventNotFound
	}
	if !ev.IsManualOverride {
		ev.IsManualOverride = true
		ev.UpdatedAt = now()
	}
	return ev.Clone(), nil
}

func (s *Store) Delete(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		return domain.ErrEventNotFound
	}
	s.drop(id)
	return nil
}

// ByPlan lists a plan's events in time order.
func (s *Store) ByPlan(planID int64) []domain.ScheduleEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(planID, func(*domain.ScheduleEvent) bool { return true })
}

// InRange lists events of a plan whose day falls within [fromMs, toMs], both days inclusive.
func (s *Store) InRange(planID, fromMs, toMs int64) []domain.ScheduleEvent {
	from, to := domain.DayStart(fromMs), domain.DayStart(toMs)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(planID, func(ev *domain.ScheduleEvent) bool {
		return ev.DateMs >= from && ev.DateMs <= to
	})
}

// Pinned lists the manual overrides of a plan.
func (s *Store) Pinned(planID int64) []domain.ScheduleEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(planID, func(ev *domain.ScheduleEvent) bool { return ev.IsManualOverride })
}

// TotalUtility sums the utility scores of a plan's events.
func (s *Store) TotalUtility(planID int64) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total float64
	for id := range s.byPlan[planID] {
		total += s.events[id].UtilityScore
	}
	return total
}

// DeletePlan removes all events of a plan and returns them.
func (s *Store) DeletePlan(planID int64) []domain.ScheduleEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.collect(planID, func(*domain.ScheduleEvent) bool { return true })
	for _, ev := range removed {
		s.drop(ev.ID)
	}
	return removed
}

// ReplacePlan swaps a plan's events for a confirmed set.
func (s *Store) ReplacePlan(planID int64, events []domain.ScheduleEvent) error {
	prepared := make([]domain.ScheduleEvent, 0, len(events))
	for _, ev := range events {
		ev = ev.Clone()
		ev.PlanID = planID
		normalize(&ev)
		if err := ev.Validate(); err != nil {
			return err
		}
		prepared = append(prepared, ev)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.byPlan[planID] {
		s.drop(id)
	}
	for _, ev := range prepared {
		if ev.ID == 0 {
			ev.ID = s.reserve()
		}
		if cur, ok := s.events[ev.ID]; ok && cur.PlanID != planID {
			s.drop(ev.ID)
		}
		s.put(ev)
	}
	return nil
}

// Restore puts back a captured event, or removes it when present is false.
func (s *Store) Restore(id int64, ev domain.ScheduleEvent, present bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; ok {
		s.drop(id)
	}
	if !present {
		return nil
	}
	cp := ev.Clone()
	cp.ID = id
	s.put(cp)
	return nil
}

// Rekey swaps a provisional id for the confirmed one.
func (s *Store) Rekey(from, to int64) error {
	if from == to {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[from]
	if !ok {
		return domain.Errorf(domain.ErrCodeNotFound, "event %d not found", from)
	}
	if _, exists := s.events[to]; exists {
		return domain.Errorf(domain.ErrCodeConflict, "event %d already exists", to)
	}
	s.drop(from)
	ev.ID = to
	s.put(*ev)
	for _, other := range s.events {
		if other.LinkedEventID != nil && *other.LinkedEventID == from {
			other.LinkedEventID = domain.Int64Ptr(to)
		}
	}
	return nil
}

func (s *Store) Count(planID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byPlan[planID])
}

func (s *Store) put(ev domain.ScheduleEvent) {
	cp := ev
	s.events[cp.ID] = &cp
	set, ok := s.byPlan[cp.PlanID]
	if !ok {
		set = make(map[int64]struct{})
		s.byPlan[cp.PlanID] = set
	}
	set[cp.ID] = struct{}{}
}

func (s *Store) drop(id int64) {
	ev, ok := s.events[id]
	if !ok {
		return
	}
	if set, ok := s.byPlan[ev.PlanID]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(s.byPlan, ev.PlanID)
		}
	}
	delete(s.events, id)
}

// siblings returns the parts of ev's schedule task in its plan. Manual events
// without a schedule task only relate through their split links.
func (s *Store) siblings(ev *domain.ScheduleEvent) []int64 {
	var out []int64
	if ev.ScheduleTaskID == 0 {
		out = s.linkedParts(ev)
	} else {
		for id := range s.byPlan[ev.PlanID] {
			if s.events[id].ScheduleTaskID == ev.ScheduleTaskID {
				out = append(out, id)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// linkedParts walks LinkedEventID edges in both directions from ev, staying inside its plan.
func (s *Store) linkedParts(ev *domain.ScheduleEvent) []int64 {
	inPlan := s.byPlan[ev.PlanID]
	related := func(id int64) bool {
		_, ok := inPlan[id]
		return ok && s.events[id].ScheduleTaskID == 0
	}

	seen := map[int64]struct{}{ev.ID: {}}
	stack := []int64{ev.ID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		var next []int64
		if link := s.events[id].LinkedEventID; link != nil {
			next = append(next, *link)
		}
		for other := range inPlan {
			if link := s.events[other].LinkedEventID; link != nil && *link == id {
				next = append(next, other)
			}
		}
		for _, n := range next {
			if _, done := seen[n]; done || !related(n) {
				continue
			}
			seen[n] = struct{}{}
			stack = append(stack, n)
		}
	}

	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

func (s *Store) collect(planID int64, keep func(*domain.ScheduleEvent) bool) []domain.ScheduleEvent {
	out := make([]domain.ScheduleEvent, 0, len(s.byPlan[planID]))
	for id := range s.byPlan[planID] {
		ev := s.events[id]
		if keep(ev) {
			out = append(out, ev.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DateMs != out[j].DateMs {
			return out[i].DateMs < out[j].DateMs
		}
		if out[i].StartMin != out[j].StartMin {
			return out[i].StartMin < out[j].StartMin
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func normalize(ev *domain.ScheduleEvent) {
	if ev.Status == "" {
		ev.Status = domain.EventScheduled
	}
	if ev.PartIndex <= 0 {
		ev.PartIndex = 1
	}
	if ev.TotalParts < ev.PartIndex {
		ev.TotalParts = ev.PartIndex
	}
	ev.DateMs = domain.DayStart(ev.DateMs)
	if ev.UpdatedAt.IsZero() {
		ev.UpdatedAt = now()
	}
}

func now() time.Time {
	return time.Now().UTC()
}
