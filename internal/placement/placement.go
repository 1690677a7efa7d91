// Package placement resolves a task's logical placement-group reference into
// a concrete binding and validates the requested bundle index.
package placement

import (
	"github.com/google/uuid"
	"github.com/oriys/quasar/internal/domain"
)

// Bundle is one resource reservation inside a placement group.
type Bundle map[string]float64

// Strategy describes how bundles are spread across nodes.
type Strategy string

const (
	StrategyPack         Strategy = "PACK"
	StrategySpread       Strategy = "SPREAD"
	StrategyStrictPack   Strategy = "STRICT_PACK"
	StrategyStrictSpread Strategy = "STRICT_SPREAD"
)

// Group is a reserved set of resource bundles.
type Group struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name,omitempty" yaml:"name,omitempty"`
	Strategy Strategy `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Bundles  []Bundle `json:"bundles" yaml:"bundles"`
}

// NewGroup creates a group with a fresh identity.
func NewGroup(name string, strategy Strategy, bundles ...Bundle) *Group {
	if strategy == "" {
		strategy = StrategyPack
	}
	return &Group{
		ID:       uuid.New().String(),
		Name:     name,
		Strategy: strategy,
		Bundles:  bundles,
	}
}

// BundleCount returns the number of bundles; zero for a nil group.
func (g *Group) BundleCount() int {
	if g == nil {
		return 0
	}
	return len(g.Bundles)
}

// IsEmpty reports whether g stands for "no placement group".
func (g *Group) IsEmpty() bool {
	return g == nil || g.ID == ""
}

func (g *Group) String() string {
	if g.IsEmpty() {
		return "PlacementGroup(none)"
	}
	if g.Name != "" {
		return "PlacementGroup(" + g.Name + "/" + g.ID + ")"
	}
	return "PlacementGroup(" + g.ID + ")"
}

type refKind int

const (
	refDefault refKind = iota
	refNone
	refGroup
)

// Ref is a logical placement-group reference as supplied by a caller. The
// zero value is the "default" sentinel: inherit the caller's group when
// child-task capture is on, otherwise none.
type Ref struct {
	kind  refKind
	group *Group
}

// Default is the sentinel reference.
func Default() Ref { return Ref{} }

// None explicitly requests no placement group.
func None() Ref { return Ref{kind: refNone} }

// In references an explicit group. An empty group means none.
func In(g *Group) Ref {
	if g.IsEmpty() {
		return None()
	}
	return Ref{kind: refGroup, group: g}
}

// IsDefault reports whether r is the default sentinel.
func (r Ref) IsDefault() bool { return r.kind == refDefault }

// Group returns the explicit group, if any.
func (r Ref) Group() *Group { return r.group }

// UnboundIndex is the bundle index meaning "any bundle".
const UnboundIndex = -1

// Request carries a call's placement settings after option resolution.
type Request struct {
	Ref               Ref
	BundleIndex       int
	CaptureChildTasks bool
}

// Binding is a resolved placement.
type Binding struct {
	Group             *Group
	BundleIndex       int
	CaptureChildTasks bool
}

// GroupID returns the bound group's id, empty when unbound.
func (b Binding) GroupID() string {
	if b.Group.IsEmpty() {
		return ""
	}
	return b.Group.ID
}

// Bind resolves req against the caller's current group, then validates the
// bundle index against the resolved group. Inheritance is resolved first:
// an unbound result has no bundles and only accepts UnboundIndex.
func Bind(req Request, current *Group) (Binding, error) {
	var group *Group
	switch req.Ref.kind {
	case refDefault:
		if req.CaptureChildTasks && !current.IsEmpty() {
			group = current
		}
	case refGroup:
		if !req.Ref.group.IsEmpty() {
			group = req.Ref.group
		}
	}

	if err := CheckBundleIndex(group, req.BundleIndex); err != nil {
		return Binding{}, err
	}
	return Binding{
		Group:             group,
		BundleIndex:       req.BundleIndex,
		CaptureChildTasks: req.CaptureChildTasks,
	}, nil
}

// CheckBundleIndex validates idx against g.
func CheckBundleIndex(g *Group, idx int) error {
	if g.IsEmpty() {
		if idx != UnboundIndex {
			return domain.Validationf("if placement group is not set, the value of bundle index must be -1, got %d", idx)
		}
		return nil
	}
	if idx < UnboundIndex || idx >= g.BundleCount() {
		return domain.Validationf("placement group bundle index %d is invalid for %s; valid indexes: 0-%d", idx, g, g.BundleCount()-1)
	}
	return nil
}
