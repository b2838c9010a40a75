package graph

import (
	"github.com/gammazero/toposort"

	"github.com/fastygo/planner/domain"
)

// TreeNode is a task with its subtasks, used for tree views.
type TreeNode struct {
	Task     domain.Task `json:"task"`
	Children []*TreeNode `json:"children,omitempty"`
}

// isAncestor walks up from start and reports whether candidate is on the path.
// The walk is bounded by the node count; a longer path means the tree is corrupt and is treated as a cycle.
func (s *Store) isAncestor(candidate, start int64) bool {
	cur := start
	for steps := 0; steps <= len(s.tasks); steps++ {
		node, ok := s.tasks[cur]
		if !ok || node.ParentTaskID == nil {
			return false
		}
		cur = *node.ParentTaskID
		if cur == candidate {
			return true
		}
	}
	return true
}

// reachable runs an iterative DFS along dependency edges from `from` looking for target.
// Each id is expanded once, so the walk visits at most every node.
func (s *Store) reachable(from, target int64) bool {
	stack := []int64{from}
	visited := make(map[int64]struct{})
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == target {
			return true
		}
		if _, seen := visited[cur]; seen {
			continue
		}
		visited[cur] = struct{}{}
		node, ok := s.tasks[cur]
		if !ok {
			continue
		}
		stack = append(stack, node.DependentTaskIDs...)
	}
	return false
}

// refreshDepth recomputes depth for id and everything below it.
func (s *Store) refreshDepth(id int64) {
	root, ok := s.tasks[id]
	if !ok {
		return
	}
	root.Depth = 0
	if root.ParentTaskID != nil {
		if parent, ok := s.tasks[*root.ParentTaskID]; ok {
			root.Depth = parent.Depth + 1
		}
	}

	stack := []int64{id}
	visited := map[int64]struct{}{id: {}}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		depth := s.tasks[cur].Depth
		for child := range s.children[cur] {
			if _, seen := visited[child]; seen {
				continue
			}
			node, ok := s.tasks[child]
			if !ok {
				continue
			}
			visited[child] = struct{}{}
			node.Depth = depth + 1
			stack = append(stack, child)
		}
	}
}

// Ancestors returns the parent chain of id, nearest first.
func (s *Store) Ancestors(id int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	var out []int64
	for steps := 0; node.ParentTaskID != nil && steps < len(s.tasks); steps++ {
		pid := *node.ParentTaskID
		out = append(out, pid)
		parent, ok := s.tasks[pid]
		if !ok {
			break
		}
		node = parent
	}
	return out, nil
}

// Children returns the direct subtasks of id.
func (s *Store) Children(id int64) []domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := setToSorted(s.children[id])
	out := make([]domain.Task, 0, len(ids))
	for _, cid := range ids {
		if t, ok := s.tasks[cid]; ok {
			out = append(out, s.view(t))
		}
	}
	return out
}

// Dependents returns the ids of tasks that depend on id.
func (s *Store) Dependents(id int64) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return setToSorted(s.dependents[id])
}

// Subtree builds the tree rooted at id without recursion.
func (s *Store) Subtree(id int64) (*TreeNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root, ok := s.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	top := &TreeNode{Task: s.view(root)}
	queue := []*TreeNode{top}
	visited := map[int64]struct{}{id: {}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, cid := range setToSorted(s.children[cur.Task.ID]) {
			if _, seen := visited[cid]; seen {
				continue
			}
			child, ok := s.tasks[cid]
			if !ok {
				continue
			}
			visited[cid] = struct{}{}
			node := &TreeNode{Task: s.view(child)}
			cur.Children = append(cur.Children, node)
			queue = append(queue, node)
		}
	}
	return top, nil
}

// TopologicalOrder lists task ids so that every task comes after the tasks it depends on.
func (s *Store) TopologicalOrder() ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.topological()
}

func (s *Store) topological() ([]int64, error) {
	var edges []toposort.Edge
	for _, id := range s.sortedIDs() {
		t := s.tasks[id]
		linked := false
		for _, dep := range t.DependentTaskIDs {
			if _, ok := s.tasks[dep]; !ok {
				continue
			}
			edges = append(edges, toposort.Edge{dep, id})
			linked = true
		}
		if !linked {
			edges = append(edges, toposort.Edge{nil, id})
		}
	}
	if len(edges) == 0 {
		return nil, nil
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, domain.WrapError(domain.ErrCodeCycleDetected, "dependency graph contains a cycle", err)
	}
	order := make([]int64, 0, len(s.tasks))
	for _, v := range sorted {
		if id, ok := v.(int64); ok {
			order = append(order, id)
		}
	}
	return order, nil
}
