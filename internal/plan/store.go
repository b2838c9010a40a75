package plan

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fastygo/planner/domain"
)

// Transition reports the plans touched by apply or revert.
type Transition struct {
	Active   domain.SchedulePlan  `json:"active"`
	Archived *domain.SchedulePlan `json:"archived,omitempty"`
}

// Store holds the plan versions of one scope and guarantees at most one ACTIVE plan.
type Store struct {
	mu          sync.RWMutex
	plans       map[int64]*domain.SchedulePlan
	snapshots   map[int64]map[int64]*domain.ScheduleTask
	activeID    int64
	provisional int64
	logger      *zap.Logger
}

func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		plans:     make(map[int64]*domain.SchedulePlan),
		snapshots: make(map[int64]map[int64]*domain.ScheduleTask),
		logger:    logger,
	}
}

// Create makes the first plan of the scope. It becomes ACTIVE; creating while one is ACTIVE is a conflict.
func (s *Store) Create(plan domain.SchedulePlan, tasks []domain.Task) (domain.SchedulePlan, error) {
	if err := plan.ValidateRange(); err != nil {
		return domain.SchedulePlan{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeID != 0 {
		return domain.SchedulePlan{}, domain.Errorf(domain.ErrCodeConflict, "plan %d is already active", s.activeID)
	}
	if plan.Algorithm == "" {
		plan.Algorithm = domain.AlgorithmManual
	}
	plan.Status = domain.PlanActive
	stored, err := s.insert(plan)
	if err != nil {
		return domain.SchedulePlan{}, err
	}
	for _, t := range tasks {
		st := domain.NewScheduleTask(stored.ID, t)
		s.putSnapshot(stored.ID, st)
	}
	s.activeID = stored.ID
	s.recount(stored.ID)
	return stored.Clone(), nil
}

// Propose installs a full alternative plan next to the ACTIVE one.
func (s *Store) Propose(plan domain.SchedulePlan, snapshots []domain.ScheduleTask) (domain.SchedulePlan, error) {
	if err := plan.ValidateRange(); err != nil {
		return domain.SchedulePlan{}, err
	}
	for _, st := range snapshots {
		if !st.Status.Valid() {
			return domain.SchedulePlan{}, domain.Errorf(domain.ErrCodeInvalid, "unknown schedule task status %q", st.Status)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	plan.Status = domain.PlanProposed
	if plan.ParentPlanID == nil && s.activeID != 0 {
		plan.ParentPlanID = domain.Int64Ptr(s.activeID)
	}
	stored, err := s.insert(plan)
	if err != nil {
		return domain.SchedulePlan{}, err
	}
	for _, st := range snapshots {
		st = st.Clone()
		st.PlanID = stored.ID
		s.putSnapshot(stored.ID, st)
	}
	return stored.Clone(), nil
}

// Apply promotes a PROPOSED plan and archives the current ACTIVE one in a single step.
func (s *Store) Apply(id int64) (Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promote(id, domain.PlanProposed)
}

// Revert brings an ARCHIVED plan back to ACTIVE and archives the current ACTIVE one.
func (s *Store) Revert(id int64) (Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promote(id, domain.PlanArchived)
}

// CheckApply validates an apply without changing anything.
func (s *Store) CheckApply(id int64) error {
	return s.check(id, domain.PlanProposed)
}

// CheckRevert validates a revert without changing anything.
func (s *Store) CheckRevert(id int64) error {
	return s.check(id, domain.PlanArchived)
}

// CheckDiscard validates a discard without changing anything.
func (s *Store) CheckDiscard(id int64) error {
	return s.check(id, domain.PlanProposed)
}

// Discard deletes a PROPOSED plan with its snapshots. The ACTIVE plan is untouched.
func (s *Store) Discard(id int64) (domain.SchedulePlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return domain.SchedulePlan{}, domain.ErrPlanNotFound
	}
	switch p.Status {
	case domain.PlanProposed:
	case domain.PlanActive, domain.PlanArchived:
		return domain.SchedulePlan{}, domain.Errorf(domain.ErrCodeConflict, "only proposed plans can be discarded, plan %d is %s", id, p.Status)
	default:
		return domain.SchedulePlan{}, domain.Errorf(domain.ErrCodeInternal, "plan %d has unknown status %q", id, p.Status)
	}
	removed := p.Clone()
	delete(s.plans, id)
	delete(s.snapshots, id)
	return removed, nil
}

func (s *Store) Active() (domain.SchedulePlan, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeID == 0 {
		return domain.SchedulePlan{}, false
	}
	return s.plans[s.activeID].Clone(), true
}

func (s *Store) Get(id int64) (domain.SchedulePlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return domain.SchedulePlan{}, domain.ErrPlanNotFound
	}
	return p.Clone(), nil
}

// List returns plans with any of the given statuses (all when none given), newest version first.
func (s *Store) List(statuses ...domain.PlanStatus) []domain.SchedulePlan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[domain.PlanStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	out := make([]domain.SchedulePlan, 0, len(s.plans))
	for _, p := range s.plans {
		if len(want) > 0 && !want[p.Status] {
			continue
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Version != out[j].Version {
			return out[i].Version > out[j].Version
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// History pages through ARCHIVED plans, most recently archived first.
func (s *Store) History(offset, limit int) ([]domain.SchedulePlan, int) {
	archived := s.List(domain.PlanArchived)
	sort.SliceStable(archived, func(i, j int) bool {
		return archived[i].UpdatedAt.After(archived[j].UpdatedAt)
	})
	total := len(archived)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []domain.SchedulePlan{}, total
	}
	archived = archived[offset:]
	if limit > 0 && limit < len(archived) {
		archived = archived[:limit]
	}
	return archived, total
}

// Tasks lists a plan's snapshots ordered by source task id.
func (s *Store) Tasks(planID int64) ([]domain.ScheduleTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.plans[planID]; !ok {
		return nil, domain.ErrPlanNotFound
	}
	return s.tasksOf(planID), nil
}

// SyncLiveTask copies a live task edit into the ACTIVE plan only. Other plans stay frozen.
func (s *Store) SyncLiveTask(task domain.Task) (domain.ScheduleTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeID == 0 {
		return domain.ScheduleTask{}, false
	}
	for _, st := range s.snapshots[s.activeID] {
		if st.TaskID != task.ID {
			continue
		}
		if st.Status == domain.ScheduleTaskExcluded {
			return st.Clone(), false
		}
		st.CopyFrom(task)
		return st.Clone(), true
	}
	st := domain.NewScheduleTask(s.activeID, task)
	stored := s.putSnapshot(s.activeID, st)
	s.recount(s.activeID)
	return stored.Clone(), true
}

// ExcludeTasks marks the ACTIVE plan's snapshots of the given tasks as EXCLUDED.
func (s *Store) ExcludeTasks(taskIDs []int64) []domain.ScheduleTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeID == 0 || len(taskIDs) == 0 {
		return nil
	}
	want := make(map[int64]struct{}, len(taskIDs))
	for _, id := range taskIDs {
		want[id] = struct{}{}
	}
	var changed []domain.ScheduleTask
	for _, st := range s.snapshots[s.activeID] {
		if _, ok := want[st.TaskID]; !ok || st.Status == domain.ScheduleTaskExcluded {
			continue
		}
		st.Status = domain.ScheduleTaskExcluded
		changed = append(changed, st.Clone())
	}
	s.recount(s.activeID)
	sort.Slice(changed, func(i, j int) bool { return changed[i].TaskID < changed[j].TaskID })
	return changed
}

// MarkScheduled flags snapshots that now have events placed.
func (s *Store) MarkScheduled(planID int64, scheduleTaskIDs []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.snapshots[planID]
	for _, id := range scheduleTaskIDs {
		if st, ok := set[id]; ok && st.Status == domain.ScheduleTaskPending {
			st.Status = domain.ScheduleTaskScheduled
		}
	}
	s.recount(planID)
}

// UpdateUtility stores the summed event utility of a plan.
func (s *Store) UpdateUtility(planID int64, total float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[planID]
	if !ok {
		return domain.ErrPlanNotFound
	}
	p.TotalUtility = total
	return nil
}

// Mirror replaces local plan records with a confirmed plan set.
// Snapshots of plans missing from the set are dropped.
func (s *Store) Mirror(plans []domain.SchedulePlan) error {
	var active int64
	next := make(map[int64]*domain.SchedulePlan, len(plans))
	for _, p := range plans {
		if !p.Status.Valid() {
			return domain.Errorf(domain.ErrCodeInvalid, "plan %d has unknown status %q", p.ID, p.Status)
		}
		if p.Status == domain.PlanActive {
			if active != 0 {
				return domain.Errorf(domain.ErrCodeConflict, "plans %d and %d are both active", active, p.ID)
			}
			active = p.ID
		}
		cp := p.Clone()
		next[cp.ID] = &cp
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.snapshots {
		if _, keep := next[id]; !keep {
			delete(s.snapshots, id)
		}
	}
	s.plans = next
	s.activeID = active
	return nil
}

// Upsert merges one confirmed plan, demoting a previous ACTIVE plan if needed.
func (s *Store) Upsert(plan domain.SchedulePlan) error {
	if !plan.Status.Valid() {
		return domain.Errorf(domain.ErrCodeInvalid, "plan %d has unknown status %q", plan.ID, plan.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := plan.Clone()
	if cp.Status == domain.PlanActive && s.activeID != 0 && s.activeID != cp.ID {
		prev := s.plans[s.activeID]
		prev.Status = domain.PlanArchived
		prev.Touch()
	}
	if cp.Status != domain.PlanActive && s.activeID == cp.ID {
		s.activeID = 0
	}
	s.plans[cp.ID] = &cp
	if cp.Status == domain.PlanActive {
		s.activeID = cp.ID
	}
	return nil
}

// ReplaceTasks swaps a plan's snapshots for a confirmed list.
func (s *Store) ReplaceTasks(planID int64, snapshots []domain.ScheduleTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[planID]; !ok {
		return domain.ErrPlanNotFound
	}
	delete(s.snapshots, planID)
	for _, st := range snapshots {
		st = st.Clone()
		st.PlanID = planID
		s.putSnapshot(planID, st)
	}
	s.recount(planID)
	return nil
}

// PruneArchived keeps the newest `keep` ARCHIVED plans and deletes the rest, returning their ids.
func (s *Store) PruneArchived(keep int) []int64 {
	if keep < 0 {
		keep = 0
	}
	archived, _ := s.History(0, 0)
	if len(archived) <= keep {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []int64
	for _, p := range archived[keep:] {
		if cur, ok := s.plans[p.ID]; !ok || cur.Status != domain.PlanArchived {
			continue
		}
		delete(s.plans, p.ID)
		delete(s.snapshots, p.ID)
		removed = append(removed, p.ID)
	}
	if len(removed) > 0 {
		s.logger.Info("archived plans pruned", zap.Int("count", len(removed)))
	}
	return removed
}

// Rekey swaps a provisional plan id for the confirmed one.
func (s *Store) Rekey(from, to int64) error {
	if from == to {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[from]
	if !ok {
		return domain.Errorf(domain.ErrCodeNotFound, "plan %d not found", from)
	}
	if _, exists := s.plans[to]; exists {
		return domain.Errorf(domain.ErrCodeConflict, "plan %d already exists", to)
	}
	delete(s.plans, from)
	p.ID = to
	s.plans[to] = p
	if set, ok := s.snapshots[from]; ok {
		for _, st := range set {
			st.PlanID = to
		}
		s.snapshots[to] = set
		delete(s.snapshots, from)
	}
	for _, other := range s.plans {
		if other.ParentPlanID != nil && *other.ParentPlanID == from {
			other.ParentPlanID = domain.Int64Ptr(to)
		}
	}
	if s.activeID == from {
		s.activeID = to
	}
	return nil
}

func (s *Store) check(id int64, from domain.PlanStatus) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return domain.ErrPlanNotFound
	}
	if p.Status != from {
		return domain.Errorf(domain.ErrCodeConflict, "plan %d is %s, expected %s", id, p.Status, from)
	}
	return nil
}

func (s *Store) promote(id int64, from domain.PlanStatus) (Transition, error) {
	p, ok := s.plans[id]
	if !ok {
		return Transition{}, domain.ErrPlanNotFound
	}
	if p.Status != from || !p.Status.CanTransition(domain.PlanActive) {
		return Transition{}, domain.Errorf(domain.ErrCodeConflict, "plan %d is %s, expected %s", id, p.Status, from)
	}

	var result Transition
	if s.activeID != 0 && s.activeID != id {
		prev := s.plans[s.activeID]
		if !prev.Status.CanTransition(domain.PlanArchived) {
			return Transition{}, domain.Errorf(domain.ErrCodeInternal, "active plan %d has status %s", prev.ID, prev.Status)
		}
		prev.Status = domain.PlanArchived
		prev.Touch()
		archived := prev.Clone()
		result.Archived = &archived
		if from == domain.PlanProposed {
			p.ParentPlanID = domain.Int64Ptr(prev.ID)
		}
	}

	at := time.Now().UTC()
	p.Status = domain.PlanActive
	p.AppliedAt = &at
	p.Touch()
	s.activeID = id
	result.Active = p.Clone()

	s.logger.Info("plan activated",
		zap.Int64("plan_id", id),
		zap.String("from", string(from)))
	return result, nil
}

func (s *Store) insert(plan domain.SchedulePlan) (domain.SchedulePlan, error) {
	if plan.ID == 0 {
		s.provisional--
		plan.ID = s.provisional
	}
	if _, exists := s.plans[plan.ID]; exists {
		return domain.SchedulePlan{}, domain.Errorf(domain.ErrCodeConflict, "plan %d already exists", plan.ID)
	}
	if plan.Version == 0 {
		plan.Version = s.maxVersion() + 1
	}
	plan.Touch()
	cp := plan.Clone()
	s.plans[cp.ID] = &cp
	return cp, nil
}

func (s *Store) maxVersion() int {
	max := 0
	for _, p := range s.plans {
		if p.Version > max {
			max = p.Version
		}
	}
	return max
}

func (s *Store) putSnapshot(planID int64, st domain.ScheduleTask) domain.ScheduleTask {
	set, ok := s.snapshots[planID]
	if !ok {
		set = make(map[int64]*domain.ScheduleTask)
		s.snapshots[planID] = set
	}
	if st.ID == 0 {
		s.provisional--
		st.ID = s.provisional
	}
	cp := st
	set[cp.ID] = &cp
	return cp
}

func (s *Store) tasksOf(planID int64) []domain.ScheduleTask {
	set := s.snapshots[planID]
	out := make([]domain.ScheduleTask, 0, len(set))
	for _, st := range set {
		out = append(out, st.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TaskID != out[j].TaskID {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) recount(planID int64) {
	p, ok := s.plans[planID]
	if !ok {
		return
	}
	scheduled, unscheduled := 0, 0
	for _, st := range s.snapshots[planID] {
		switch st.Status {
		case domain.ScheduleTaskScheduled:
			scheduled++
		case domain.ScheduleTaskPending:
			unscheduled++
		case domain.ScheduleTaskExcluded:
		}
	}
	p.ScheduledCount = scheduled
	p.UnscheduledCount = unscheduled
}
