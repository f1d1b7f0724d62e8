package definition

import (
	"fmt"

	"github.com/conveyr/conveyr/pkg/models"
)

// validateGraph enforces well-formedness beyond the JSON schema: exactly one
// start node, at least one end node, unique node ids, edges referencing
// known nodes, every node reachable from start, service tasks carrying a
// task type, and single-token flow (every non-end node has exactly one
// outgoing edge, end nodes have none).
func validateGraph(d *models.ProcessDefinition) error {
	nodesByID := make(map[string]*models.Node, len(d.Nodes))
	starts := 0
	ends := 0

	for _, node := range d.Nodes {
		if _, exists := nodesByID[node.ID]; exists {
			return fmt.Errorf("%w: duplicate node id %q", ErrInvalidDefinition, node.ID)
		}

		nodesByID[node.ID] = node

		switch node.Kind {
		case models.NodeKindStart:
			starts++
		case models.NodeKindEnd:
			ends++
		case models.NodeKindServiceTask:
			if node.TaskType == "" {
				return fmt.Errorf("%w: service task %q has no task type", ErrInvalidDefinition, node.ID)
			}
		case models.NodeKindGateway:
		}
	}

	if starts != 1 {
		return fmt.Errorf("%w: expected exactly one start node, found %d", ErrInvalidDefinition, starts)
	}

	if ends == 0 {
		return fmt.Errorf("%w: no end node", ErrInvalidDefinition)
	}

	outgoing := make(map[string]int, len(d.Nodes))

	for _, edge := range d.Edges {
		if _, exists := nodesByID[edge.From]; !exists {
			return fmt.Errorf("%w: edge references unknown node %q", ErrInvalidDefinition, edge.From)
		}

		if _, exists := nodesByID[edge.To]; !exists {
			return fmt.Errorf("%w: edge references unknown node %q", ErrInvalidDefinition, edge.To)
		}

		outgoing[edge.From]++
	}

	for _, node := range d.Nodes {
		count := outgoing[node.ID]

		if node.Kind == models.NodeKindEnd {
			if count != 0 {
				return fmt.Errorf("%w: end node %q has outgoing edges", ErrInvalidDefinition, node.ID)
			}

			continue
		}

		if count != 1 {
			return fmt.Errorf("%w: node %q must have exactly one outgoing edge, found %d", ErrInvalidDefinition, node.ID, count)
		}
	}

	return checkReachability(d, nodesByID)
}

func checkReachability(d *models.ProcessDefinition, nodesByID map[string]*models.Node) error {
	visited := make(map[string]bool, len(nodesByID))
	queue := []string{d.StartNode().ID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if visited[current] {
			continue
		}

		visited[current] = true

		for _, edge := range d.Edges {
			if edge.From == current && !visited[edge.To] {
				queue = append(queue, edge.To)
			}
		}
	}

	for id := range nodesByID {
		if !visited[id] {
			return fmt.Errorf("%w: node %q is unreachable from start", ErrInvalidDefinition, id)
		}
	}

	return nil
}
