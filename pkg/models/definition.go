// Package models defines the core domain models for process orchestration.
package models

import "time"

// NodeKind represents the kind of a node in a process definition graph.
type NodeKind string

const (
	NodeKindStart       NodeKind = "start"        // Entry marker, exactly one per definition
	NodeKindEnd         NodeKind = "end"          // Terminal marker
	NodeKindServiceTask NodeKind = "service_task" // Externally-executed work, produces a job
	NodeKindGateway     NodeKind = "gateway"      // Automatic pass-through, no job produced
)

// DefaultJobRetries is the retry budget for service task jobs when the
// definition does not set one.
const DefaultJobRetries = 3

// Node is a single step in a process definition graph.
type Node struct {
	ID       string   `json:"id"                  validate:"required"`
	Kind     NodeKind `json:"kind"                validate:"required,oneof=start end service_task gateway"`
	TaskType string   `json:"task_type,omitempty"`
	Retries  int      `json:"retries,omitempty"`
}

// IsTask reports whether advancing a token onto this node produces a job.
func (n *Node) IsTask() bool {
	return n.Kind == NodeKindServiceTask
}

// JobRetries returns the retry budget for jobs produced by this node.
func (n *Node) JobRetries() int {
	if n.Retries > 0 {
		return n.Retries
	}

	return DefaultJobRetries
}

// Edge is a directed connection between two nodes.
type Edge struct {
	From string `json:"from" validate:"required"`
	To   string `json:"to"   validate:"required"`
}

// ProcessDefinition is an immutable, versioned process graph. Multiple
// versions of the same process id coexist; instances bind to the version
// that was latest at creation time.
type ProcessDefinition struct {
	ID         string    `json:"id"   validate:"required"`
	Version    int       `json:"version"`
	Name       string    `json:"name,omitempty"`
	Nodes      []*Node   `json:"nodes" validate:"required,min=2"`
	Edges      []*Edge   `json:"edges"`
	DeployedAt time.Time `json:"deployed_at"`
}

// StartNode returns the definition's start node, or nil if absent.
func (d *ProcessDefinition) StartNode() *Node {
	for _, node := range d.Nodes {
		if node.Kind == NodeKindStart {
			return node
		}
	}

	return nil
}

// NodeByID returns the node with the given id, or nil if absent.
func (d *ProcessDefinition) NodeByID(id string) *Node {
	for _, node := range d.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// NextNodeID returns the target of the sole outgoing edge of the given node,
// or "" when the node has no outgoing edge.
func (d *ProcessDefinition) NextNodeID(nodeID string) string {
	for _, edge := range d.Edges {
		if edge.From == nodeID {
			return edge.To
		}
	}

	return ""
}
