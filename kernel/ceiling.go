package kernel

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/graph/simple"
)

// Node IDs in the access graph: tasks use their table index, the idle context
// uses idleNode and resources are offset by resourceBase.
const (
	idleNode     = MaxTasks
	resourceBase = MaxTasks + 1
)

// computeCeilings derives each resource's ceiling and access mask from the
// task → resource access graph and checks declared ceilings against it.
func computeCeilings(specs []TaskSpec, idleShares []*resourceMeta, resources []*resourceMeta) error {
	g := simple.NewDirectedGraph()
	for _, r := range resources {
		g.AddNode(simple.Node(resourceBase + int64(r.id)))
	}
	for i, t := range specs {
		from := simple.Node(int64(i))
		g.AddNode(from)
		for _, r := range t.shares {
			to := simple.Node(resourceBase + int64(r.id))
			if g.HasEdgeFromTo(from.ID(), to.ID()) {
				continue
			}
			g.SetEdge(g.NewEdge(from, to))
		}
	}
	if len(idleShares) > 0 {
		idle := simple.Node(idleNode)
		g.AddNode(idle)
		for _, r := range idleShares {
			to := simple.Node(resourceBase + int64(r.id))
			if !g.HasEdgeFromTo(idle.ID(), to.ID()) {
				g.SetEdge(g.NewEdge(idle, to))
			}
		}
	}

	var errs []error
	for _, r := range resources {
		r.ceiling = 0
		r.access = initAccess

		accessors := g.To(resourceBase + int64(r.id))
		for accessors.Next() {
			id := accessors.Node().ID()
			if id == idleNode {
				r.access |= idleAccess
				continue
			}
			r.access |= 1 << uint(id)
			if p := specs[id].Priority; p > r.ceiling {
				r.ceiling = p
			}
		}

		if r.declared != 0 {
			if r.declared < r.ceiling {
				errs = append(errs, fmt.Errorf("resource %q: ceiling %d, accessed at priority %d: %w",
					r.name, r.declared, r.ceiling, ErrCeilingTooLow))
				continue
			}
			r.ceiling = r.declared
		}
	}
	return errors.Join(errs...)
}
