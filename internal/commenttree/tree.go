// Package commenttree turns flat comment rows into reply forests and walks
// parent pointers without recursion.
package commenttree

import "taskflow/api/internal/store"

// Node is a comment with its nested replies.
type Node struct {
	store.Comment
	Replies []*Node `json:"replies"`
}

// Build nests comments under their parents, preserving input order among
// siblings and roots. A comment whose parent is absent from the input is
// promoted to a root. A parent chain that loops back on itself is broken at
// the first comment of the loop reached in input order, which becomes a root.
func Build(comments []store.Comment) []*Node {
	nodes := make(map[string]*Node, len(comments))
	for _, comment := range comments {
		if _, exists := nodes[comment.ID]; exists {
			continue
		}
		nodes[comment.ID] = &Node{Comment: comment, Replies: []*Node{}}
	}

	parentOf := func(id string) string {
		parentID := nodes[id].ParentID
		if parentID == nil {
			return ""
		}
		if _, ok := nodes[*parentID]; !ok {
			return ""
		}
		return *parentID
	}

	cut := breakCycles(comments, parentOf)

	roots := make([]*Node, 0)
	seen := make(map[string]bool, len(comments))
	for _, comment := range comments {
		if seen[comment.ID] {
			continue
		}
		seen[comment.ID] = true
		node := nodes[comment.ID]
		parentID := parentOf(comment.ID)
		if parentID == "" || cut[comment.ID] {
			roots = append(roots, node)
			continue
		}
		parent := nodes[parentID]
		parent.Replies = append(parent.Replies, node)
	}
	return roots
}

func breakCycles(comments []store.Comment, parentOf func(string) string) map[string]bool {
	const (
		unvisited = iota
		visiting
		resolved
	)
	state := make(map[string]int, len(comments))
	cut := make(map[string]bool)

	for _, comment := range comments {
		var path []string
		current := comment.ID
		for current != "" {
			if state[current] == resolved {
				break
			}
			if state[current] == visiting {
				cut[current] = true
				break
			}
			state[current] = visiting
			path = append(path, current)
			current = parentOf(current)
		}
		for _, id := range path {
			state[id] = resolved
		}
	}
	return cut
}

// Count returns the number of nodes in the forest.
func Count(roots []*Node) int {
	total := 0
	stack := append([]*Node(nil), roots...)
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		total++
		stack = append(stack, node.Replies...)
	}
	return total
}
