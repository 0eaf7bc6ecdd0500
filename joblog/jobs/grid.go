package jobs

import (
	"errors"
	"fmt"
	"iter"
	"slices"

	ports "github.com/ZanzyTHEbar/joblog/joblog/jobs/ports"
)

// ErrInvalidGrid is returned for grids with unnamed or repeated axes.
var ErrInvalidGrid = errors.New("invalid parameter grid")

// Axis is one hyperparameter and its candidate values, in trial order.
type Axis struct {
	Name   string
	Values []any
}

// Grid is an ordered list of axes. Its points are the Cartesian product of the
// axes, in nested-loop order with the last axis varying fastest.
type Grid []Axis

// NewGrid builds a grid from a map, ordering axes by name.
func NewGrid(axes map[string][]any) Grid {
	names := make([]string, 0, len(axes))
	for name := range axes {
		names = append(names, name)
	}
	slices.Sort(names)

	g := make(Grid, 0, len(names))
	for _, name := range names {
		g = append(g, Axis{Name: name, Values: axes[name]})
	}
	return g
}

// With returns a copy of g with one more axis.
func (g Grid) With(name string, values ...any) Grid {
	return append(slices.Clip(g), Axis{Name: name, Values: values})
}

// Len returns the number of points.
func (g Grid) Len() int {
	n := 1
	for _, a := range g {
		n *= len(a.Values)
	}
	return n
}

// Validate rejects unnamed and repeated axes.
func (g Grid) Validate() error {
	seen := make(map[string]struct{}, len(g))
	for i, a := range g {
		if a.Name == "" {
			return fmt.Errorf("%w: axis %d has no name", ErrInvalidGrid, i)
		}
		if _, dup := seen[a.Name]; dup {
			return fmt.Errorf("%w: axis %q appears twice", ErrInvalidGrid, a.Name)
		}
		seen[a.Name] = struct{}{}
	}
	return nil
}

// Points yields every combination. An empty grid yields one empty
// combination; an axis with no values yields none.
func (g Grid) Points() iter.Seq[ports.Params] {
	return func(yield func(ports.Params) bool) {
		for _, a := range g {
			if len(a.Values) == 0 {
				return
			}
		}

		idx := make([]int, len(g))
		for {
			p := make(ports.Params, len(g))
			for i, a := range g {
				p[a.Name] = a.Values[idx[i]]
			}
			if !yield(p) {
				return
			}

			// Advance the odometer from the last axis.
			i := len(g) - 1
			for ; i >= 0; i-- {
				idx[i]++
				if idx[i] < len(g[i].Values) {
					break
				}
				idx[i] = 0
			}
			if i < 0 {
				return
			}
		}
	}
}
