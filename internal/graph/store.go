package graph

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fastygo/planner/domain"
)

// DanglingPolicy decides what happens to dependency edges that point at a deleted task.
type DanglingPolicy string

const (
	DanglingRemove DanglingPolicy = "remove"
	DanglingKeep   DanglingPolicy = "keep"
)

func ParseDanglingPolicy(v string) (DanglingPolicy, error) {
	switch DanglingPolicy(strings.ToLower(strings.TrimSpace(v))) {
	case "", DanglingRemove:
		return DanglingRemove, nil
	case DanglingKeep:
		return DanglingKeep, nil
	default:
		return "", fmt.Errorf("unknown dangling dependency policy %q", v)
	}
}

// Filter narrows List results.
type Filter struct {
	ParentID  *int64
	RootsOnly bool
	ProjectID *int64
	Status    domain.TaskStatus
	Tag       string
	Limit     int
	Offset    int
}

// Removal reports every task touched by a cascading delete.
type Removal struct {
	Removed  []int64 `json:"removed"`
	Promoted []int64 `json:"promoted,omitempty"`
	Detached []int64 `json:"detached,omitempty"`
}

// Store keeps the task tree and dependency graph in an arena indexed by task id.
// Parent links live on the tasks; children and reverse dependency edges are indexes.
type Store struct {
	mu          sync.RWMutex
	tasks       map[int64]*domain.Task
	children    map[int64]map[int64]struct{}
	dependents  map[int64]map[int64]struct{}
	provisional int64
	policy      DanglingPolicy
	logger      *zap.Logger
}

func NewStore(policy DanglingPolicy, logger *zap.Logger) *Store {
	if policy == "" {
		policy = DanglingRemove
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		tasks:      make(map[int64]*domain.Task),
		children:   make(map[int64]map[int64]struct{}),
		dependents: make(map[int64]map[int64]struct{}),
		policy:     policy,
		logger:     logger,
	}
}

// ReserveID hands out a provisional (negative) id for a task not yet confirmed by the backend.
func (s *Store) ReserveID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provisional--
	return s.provisional
}

// Create inserts a task. A zero id is replaced with a provisional one.
func (s *Store) Create(task domain.Task) (domain.Task, error) {
	task.Normalize()
	if err := task.Validate(); err != nil {
		return domain.Task{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == 0 {
		s.provisional--
		task.ID = s.provisional
	}
	if _, exists := s.tasks[task.ID]; exists {
		return domain.Task{}, domain.Errorf(domain.ErrCodeConflict, "task %d already exists", task.ID)
	}
	if task.ParentTaskID != nil {
		if *task.ParentTaskID == task.ID {
			return domain.Task{}, domain.NewError(domain.ErrCodeCycleDetected, "task cannot be its own parent")
		}
		if _, ok := s.tasks[*task.ParentTaskID]; !ok {
			return domain.Task{}, domain.Errorf(domain.ErrCodeNotFound, "parent task %d not found", *task.ParentTaskID)
		}
	}
	for _, dep := range task.DependentTaskIDs {
		if dep == task.ID {
			return domain.Task{}, domain.NewError(domain.ErrCodeCycleDetected, "task cannot depend on itself")
		}
		if _, ok := s.tasks[dep]; !ok {
			return domain.Task{}, domain.Errorf(domain.ErrCodeNotFound, "dependency %d not found", dep)
		}
		// only reachable when kept dangling edges already point at this id
		if s.reachable(dep, task.ID) {
			return domain.Task{}, domain.Errorf(domain.ErrCodeCycleDetected, "dependency %d would close a cycle", dep)
		}
	}

	task.Touch()
	node := task.Clone()
	s.tasks[node.ID] = &node
	s.link(&node)
	s.refreshDepth(node.ID)
	return s.view(&node), nil
}

func (s *Store) Get(id int64) (domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return s.view(t), nil
}

// Lookup returns the raw stored value for snapshotting; derived fields are left as stored.
func (s *Store) Lookup(id int64) (domain.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, false
	}
	return t.Clone(), true
}

func (s *Store) Has(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tasks[id]
	return ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

func (s *Store) List(filter Filter) []domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tag := strings.ToLower(strings.TrimSpace(filter.Tag))
	out := make([]domain.Task, 0, len(s.tasks))
	for _, id := range s.sortedIDs() {
		t := s.tasks[id]
		if filter.RootsOnly && t.ParentTaskID != nil {
			continue
		}
		if filter.ParentID != nil && (t.ParentTaskID == nil || *t.ParentTaskID != *filter.ParentID) {
			continue
		}
		if filter.ProjectID != nil && (t.ProjectID == nil || *t.ProjectID != *filter.ProjectID) {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if tag != "" && !hasTag(t.Tags, tag) {
			continue
		}
		out = append(out, s.view(t))
	}
	return paginate(out, filter.Offset, filter.Limit)
}

// Patch applies a partial update. Structure (parent, dependencies) is not patchable here.
func (s *Store) Patch(id int64, patch domain.TaskPatch) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	updated, err := patch.Apply(*t)
	if err != nil {
		return domain.Task{}, err
	}
	updated.Touch()
	*t = updated
	return s.view(t), nil
}

// Reparent moves a task under newParentID; nil makes it a root.
func (s *Store) Reparent(id int64, newParentID *int64) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	if newParentID != nil {
		parentID := *newParentID
		if parentID == id {
			return domain.Task{}, domain.NewError(domain.ErrCodeCycleDetected, "task cannot be its own parent")
		}
		if _, ok := s.tasks[parentID]; !ok {
			return domain.Task{}, domain.Errorf(domain.ErrCodeNotFound, "parent task %d not found", parentID)
		}
		if s.isAncestor(id, parentID) {
			s.logger.Debug("reparent rejected", zap.Int64("task_id", id), zap.Int64("parent_id", parentID))
			return domain.Task{}, domain.Errorf(domain.ErrCodeCycleDetected, "task %d is an ancestor of %d", id, parentID)
		}
	}

	s.unlinkParent(t)
	if newParentID != nil {
		pid := *newParentID
		t.ParentTaskID = &pid
	} else {
		t.ParentTaskID = nil
	}
	s.linkParent(t)
	t.Touch()
	s.refreshDepth(id)
	return s.view(t), nil
}

// Promote detaches a subtask and makes it a root task.
func (s *Store) Promote(id int64) (domain.Task, error) {
	return s.Reparent(id, nil)
}

// AddDependency records that taskID depends on dependsOnID.
func (s *Store) AddDependency(taskID, dependsOnID int64) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	if taskID == dependsOnID {
		return domain.Task{}, domain.NewError(domain.ErrCodeCycleDetected, "task cannot depend on itself")
	}
	if _, ok := s.tasks[dependsOnID]; !ok {
		return domain.Task{}, domain.Errorf(domain.ErrCodeNotFound, "dependency %d not found", dependsOnID)
	}
	if t.DependsOn(dependsOnID) {
		return s.view(t), nil
	}
	if s.reachable(dependsOnID, taskID) {
		s.logger.Debug("dependency rejected", zap.Int64("task_id", taskID), zap.Int64("depends_on", dependsOnID))
		return domain.Task{}, domain.Errorf(domain.ErrCodeCycleDetected, "task %d is reachable from %d", taskID, dependsOnID)
	}

	deps := append(append([]int64(nil), t.DependentTaskIDs...), dependsOnID)
	sortIDs(deps)
	t.DependentTaskIDs = deps
	addEdge(s.dependents, dependsOnID, taskID)
	t.Touch()
	return s.view(t), nil
}

func (s *Store) RemoveDependency(taskID, dependsOnID int64) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	if !t.DependsOn(dependsOnID) {
		return s.view(t), nil
	}
	t.DependentTaskIDs = withoutID(t.DependentTaskIDs, dependsOnID)
	removeEdge(s.dependents, dependsOnID, taskID)
	t.Touch()
	return s.view(t), nil
}

// IsBlocked is true iff any direct dependency is not DONE. Unknown dependencies count as not DONE.
func (s *Store) IsBlocked(id int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return false, domain.ErrTaskNotFound
	}
	return s.blocked(t), nil
}

// DeleteImpact lists every task a Delete(id) would modify, including id itself.
func (s *Store) DeleteImpact(id int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.tasks[id]; !ok {
		return nil, domain.ErrTaskNotFound
	}
	removed := s.cascade(id)
	set := make(map[int64]struct{})
	for _, r := range removed {
		set[r] = struct{}{}
		for gc := range s.children[r] {
			set[gc] = struct{}{}
		}
		if s.policy == DanglingRemove {
			for d := range s.dependents[r] {
				if _, ok := s.tasks[d]; ok {
					set[d] = struct{}{}
				}
			}
		}
	}
	return setToSorted(set), nil
}

// Delete removes a task together with its direct subtasks.
// Their own subtasks are promoted to roots.
func (s *Store) Delete(id int64) (Removal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return Removal{}, domain.ErrTaskNotFound
	}

	removed := s.cascade(id)
	removedSet := make(map[int64]struct{}, len(removed))
	for _, r := range removed {
		removedSet[r] = struct{}{}
	}

	var result Removal
	result.Removed = removed

	for _, r := range removed[1:] {
		for _, gc := range setToSorted(s.children[r]) {
			child := s.tasks[gc]
			child.ParentTaskID = nil
			child.Touch()
			result.Promoted = append(result.Promoted, gc)
		}
		delete(s.children, r)
	}

	detached := make(map[int64]struct{})
	for _, r := range removed {
		for d := range s.dependents[r] {
			if _, gone := removedSet[d]; gone {
				continue
			}
			dependent, ok := s.tasks[d]
			if !ok || s.policy != DanglingRemove {
				continue
			}
			dependent.DependentTaskIDs = withoutID(dependent.DependentTaskIDs, r)
			dependent.Touch()
			detached[d] = struct{}{}
		}
		if s.policy == DanglingRemove {
			delete(s.dependents, r)
		}
	}
	result.Detached = setToSorted(detached)

	for _, r := range removed {
		s.unlink(s.tasks[r])
		delete(s.tasks, r)
	}
	delete(s.children, id)

	for _, p := range result.Promoted {
		s.refreshDepth(p)
	}
	sortIDs(result.Promoted)
	return result, nil
}

// Restore puts back a previously captured value, or removes the task when present is false.
// Edges that would make the restored task part of a cycle are dropped and reported as a conflict.
func (s *Store) Restore(id int64, task domain.Task, present bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.tasks[id]; ok {
		s.unlink(cur)
		delete(s.tasks, id)
	}
	if !present {
		return nil
	}

	node := task.Clone()
	node.ID = id
	dropped := false
	if node.ParentTaskID != nil && (*node.ParentTaskID == id || s.isAncestor(id, *node.ParentTaskID)) {
		node.ParentTaskID = nil
		dropped = true
	}
	kept := make([]int64, 0, len(node.DependentTaskIDs))
	for _, dep := range node.DependentTaskIDs {
		if dep == id || s.reachable(dep, id) {
			dropped = true
			continue
		}
		kept = append(kept, dep)
	}
	if len(kept) == 0 {
		kept = nil
	}
	node.DependentTaskIDs = kept

	s.tasks[id] = &node
	s.link(&node)
	s.refreshDepth(id)

	if dropped {
		s.logger.Warn("restored task lost edges to stay acyclic", zap.Int64("task_id", id))
		return domain.Errorf(domain.ErrCodeConflict, "task %d restored without edges that would form a cycle", id)
	}
	return nil
}

// Rekey swaps a provisional id for the id confirmed by the backend, rewriting every reference.
func (s *Store) Rekey(from, to int64) error {
	if from == to {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[from]
	if !ok {
		return domain.Errorf(domain.ErrCodeNotFound, "task %d not found", from)
	}
	if _, exists := s.tasks[to]; exists {
		return domain.Errorf(domain.ErrCodeConflict, "task %d already exists", to)
	}

	s.unlink(t)
	for child := range s.children[from] {
		if c, ok := s.tasks[child]; ok {
			pid := to
			c.ParentTaskID = &pid
		}
	}
	if kids, ok := s.children[from]; ok {
		s.children[to] = kids
		delete(s.children, from)
	}
	for d := range s.dependents[from] {
		if dep, ok := s.tasks[d]; ok {
			ids := withoutID(dep.DependentTaskIDs, from)
			ids = append(ids, to)
			sortIDs(ids)
			dep.DependentTaskIDs = ids
		}
	}
	if deps, ok := s.dependents[from]; ok {
		s.dependents[to] = deps
		delete(s.dependents, from)
	}

	delete(s.tasks, from)
	t.ID = to
	s.tasks[to] = t
	s.link(t)
	return nil
}

// Load replaces the whole graph with a confirmed task set, rejecting sets that contain cycles.
func (s *Store) Load(tasks []domain.Task) error {
	next := NewStore(s.policy, s.logger)
	for i := range tasks {
		t := tasks[i].Clone()
		t.Normalize()
		next.tasks[t.ID] = &t
	}
	for _, t := range next.tasks {
		next.link(t)
	}
	for id, t := range next.tasks {
		if t.ParentTaskID != nil && (*t.ParentTaskID == id || next.isAncestor(id, *t.ParentTaskID)) {
			return domain.Errorf(domain.ErrCodeCycleDetected, "task %d is its own ancestor", id)
		}
	}
	if _, err := next.topological(); err != nil {
		return err
	}
	for _, id := range next.sortedIDs() {
		next.refreshDepth(id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = next.tasks
	s.children = next.children
	s.dependents = next.dependents
	return nil
}

func (s *Store) view(t *domain.Task) domain.Task {
	out := t.Clone()
	out.IsBlocked = s.blocked(t)
	return out
}

func (s *Store) blocked(t *domain.Task) bool {
	for _, dep := range t.DependentTaskIDs {
		if !s.tasks[dep].IsCompleted() {
			return true
		}
	}
	return false
}

// cascade returns id followed by its direct subtasks in id order.
func (s *Store) cascade(id int64) []int64 {
	out := []int64{id}
	return append(out, setToSorted(s.children[id])...)
}

func (s *Store) link(t *domain.Task) {
	s.linkParent(t)
	for _, dep := range t.DependentTaskIDs {
		addEdge(s.dependents, dep, t.ID)
	}
}

func (s *Store) unlink(t *domain.Task) {
	s.unlinkParent(t)
	for _, dep := range t.DependentTaskIDs {
		removeEdge(s.dependents, dep, t.ID)
	}
}

func (s *Store) linkParent(t *domain.Task) {
	if t.ParentTaskID != nil {
		addEdge(s.children, *t.ParentTaskID, t.ID)
	}
}

func (s *Store) unlinkParent(t *domain.Task) {
	if t.ParentTaskID != nil {
		removeEdge(s.children, *t.ParentTaskID, t.ID)
	}
}

func (s *Store) sortedIDs() []int64 {
	ids := make([]int64, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

func addEdge(index map[int64]map[int64]struct{}, from, to int64) {
	set, ok := index[from]
	if !ok {
		set = make(map[int64]struct{})
		index[from] = set
	}
	set[to] = struct{}{}
}

func removeEdge(index map[int64]map[int64]struct{}, from, to int64) {
	set, ok := index[from]
	if !ok {
		return
	}
	delete(set, to)
	if len(set) == 0 {
		delete(index, from)
	}
}

func withoutID(ids []int64, id int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func setToSorted(set map[int64]struct{}) []int64 {
	if len(set) == 0 {
		return nil
	}
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func paginate(tasks []domain.Task, offset, limit int) []domain.Task {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(tasks) {
		return []domain.Task{}
	}
	tasks = tasks[offset:]
	if limit > 0 && limit < len(tasks) {
		tasks = tasks[:limit]
	}
	return tasks
}
