package commenttree

import "taskflow/api/internal/store"

// Collect returns rootID followed by every comment reachable from it through
// child edges, in pre-order with siblings in edge order. Each id appears once
// even when the edges contain a cycle.
func Collect(rootID string, edges []store.CommentEdge) []string {
	children := make(map[string][]string, len(edges))
	for _, edge := range edges {
		if edge.ParentID == nil || *edge.ParentID == edge.ID {
			continue
		}
		children[*edge.ParentID] = append(children[*edge.ParentID], edge.ID)
	}

	ids := make([]string, 0, 1)
	visited := map[string]bool{}
	stack := []string{rootID}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[current] {
			continue
		}
		visited[current] = true
		ids = append(ids, current)

		kids := children[current]
		for i := len(kids) - 1; i >= 0; i-- {
			if !visited[kids[i]] {
				stack = append(stack, kids[i])
			}
		}
	}
	return ids
}
