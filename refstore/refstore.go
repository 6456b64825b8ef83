// Package refstore models the hierarchical reference store produced by
// scanning a GRIB file: nested groups of variables, each with dimensions,
// shape, and coordinates, plus a flat mapping from zarr-style chunk keys to
// chunk references.
//
// Store keys follow "<group>/.../<var>/<i0>.<i1>..." addressing and
// ".zarray"-suffixed keys hold JSON-encoded shape/chunk metadata. Chunk
// reference values are either a 3-element [uri, offset, length] sequence or
// an inline scalar, never both.
package refstore

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors.
var (
	// ErrChunking is returned when a dimension's chunk size is neither one
	// element nor the whole dimension.
	ErrChunking = errors.New("gribidx: cannot index dimension with non-singleton chunks")

	// ErrBadChunkRef is returned when a chunk reference is neither a
	// 3-element [uri, offset, length] sequence nor an inline scalar.
	ErrBadChunkRef = errors.New("gribidx: malformed chunk reference")
)

// Tree is a hierarchical reference store for one or more decoded messages.
//
// Refs holds the raw store values: ".zarray" keys map to JSON-encoded
// metadata strings and chunk keys map to references. Values survive a JSON
// round trip, so numeric fields may arrive as float64.
type Tree struct {
	Root *Node
	Refs map[string]any
}

// NewTree creates an empty tree with a root group.
func NewTree() *Tree {
	return &Tree{
		Root: &Node{},
		Refs: make(map[string]any),
	}
}

// Empty reports whether the tree carries no variables.
func (t *Tree) Empty() bool {
	if t == nil || t.Root == nil {
		return true
	}
	empty := true
	t.Root.walk(func(n *Node) {
		if len(n.Vars) > 0 {
			empty = false
		}
	})
	return empty
}

// Node is one group in the tree. Parent links are explicit so attribute
// inheritance is a bounded walk to the root, nearest ancestor overriding
// farthest.
type Node struct {
	Name     string
	Parent   *Node
	Attrs    map[string]string
	Children []*Node
	Vars     []*Variable
	Coords   []*Coord
}

// AddGroup appends a child group and returns it.
func (n *Node) AddGroup(name string, attrs map[string]string) *Node {
	child := &Node{Name: name, Parent: n, Attrs: attrs}
	n.Children = append(n.Children, child)
	return child
}

// Path returns the slash-joined group path, empty for the root.
func (n *Node) Path() string {
	var parts []string
	for walk := n; walk != nil && walk.Name != ""; walk = walk.Parent {
		parts = append(parts, walk.Name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

// InheritedAttrs returns the node's attributes merged with its ancestors',
// nearest ancestor winning on conflicts.
func (n *Node) InheritedAttrs() map[string]string {
	attrs := make(map[string]string)
	for walk := n; walk != nil; walk = walk.Parent {
		for k, v := range walk.Attrs {
			if _, ok := attrs[k]; !ok {
				attrs[k] = v
			}
		}
	}
	return attrs
}

func (n *Node) walk(fn func(*Node)) {
	fn(n)
	for _, child := range n.Children {
		child.walk(fn)
	}
}

// Variable is a data variable carried by a group. Chunk sizes are not stored
// here; they live in the ".zarray" entry of the owning tree's Refs, which is
// authoritative for chunking.
type Variable struct {
	Name  string
	Dims  []string
	Shape []int
}

// Coord is a coordinate variable. Exactly one of Floats, Times, or
// Durations is populated; a coordinate with no dims holds a single constant.
type Coord struct {
	Name      string
	Dims      []string
	Shape     []int
	Floats    []float64
	Times     []time.Time
	Durations []time.Duration
}

// Len returns the number of values the coordinate holds.
func (c *Coord) Len() int {
	switch {
	case c.Floats != nil:
		return len(c.Floats)
	case c.Times != nil:
		return len(c.Times)
	case c.Durations != nil:
		return len(c.Durations)
	}
	return 0
}

// At returns the scalar value at flat position i.
func (c *Coord) At(i int) (Scalar, error) {
	if i < 0 || i >= c.Len() {
		return Scalar{}, fmt.Errorf("gribidx: coordinate %s has no value at position %d", c.Name, i)
	}
	switch {
	case c.Floats != nil:
		return FloatScalar(c.Floats[i]), nil
	case c.Times != nil:
		return TimeScalar(c.Times[i]), nil
	default:
		return DurationScalar(c.Durations[i]), nil
	}
}

// ScalarKind identifies the value held by a Scalar.
type ScalarKind uint8

const (
	ScalarFloat ScalarKind = iota
	ScalarTime
	ScalarDuration
)

// Scalar is one resolved coordinate value.
type Scalar struct {
	Kind     ScalarKind
	Float    float64
	Time     time.Time
	Duration time.Duration
}

// FloatScalar wraps a numeric coordinate value.
func FloatScalar(v float64) Scalar { return Scalar{Kind: ScalarFloat, Float: v} }

// TimeScalar wraps a timestamp coordinate value.
func TimeScalar(v time.Time) Scalar { return Scalar{Kind: ScalarTime, Time: v} }

// DurationScalar wraps a duration coordinate value.
func DurationScalar(v time.Duration) Scalar { return Scalar{Kind: ScalarDuration, Duration: v} }

// String renders the scalar for logs and error messages.
func (s Scalar) String() string {
	switch s.Kind {
	case ScalarTime:
		return s.Time.UTC().Format(time.RFC3339)
	case ScalarDuration:
		return s.Duration.String()
	default:
		return fmt.Sprintf("%g", s.Float)
	}
}

// BuildPath joins path segments and an optional suffix into a store key
// without a leading slash. Empty segments are dropped.
func BuildPath(parts []string, suffix string) string {
	joined := make([]string, 0, len(parts)+1)
	for _, p := range parts {
		if p != "" {
			joined = append(joined, p)
		}
	}
	if suffix != "" {
		joined = append(joined, suffix)
	}
	return strings.TrimPrefix(strings.Join(joined, "/"), "/")
}
