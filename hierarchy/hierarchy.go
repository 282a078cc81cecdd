package hierarchy

import (
	"github.com/VanDung-dev/H3Arrow-Engine/cell"
	"github.com/VanDung-dev/H3Arrow-Engine/cellarray"
	"github.com/VanDung-dev/H3Arrow-Engine/engine"
)

// Parent returns the ancestor of every cell at res. Order preserving.
//
// Slots whose cell is coarser than res come out null. A res outside [0, 15]
// fails the whole call with *cell.ResolutionRangeError.
func Parent(cells *cellarray.CellArray, res int, opts ...engine.Option) (*cellarray.CellArray, error) {
	if err := cell.CheckResolution(res); err != nil {
		return nil, err
	}
	return cellarray.Map("parent", cells, func(c cell.Cell) (cell.Cell, bool, error) {
		return parentOf(c, res)
	}, opts...)
}

// Children returns the descendants of every cell at res as one group per
// input slot. Null inputs and cells finer than res give null groups.
// Order preserving; each group is in H3 child order.
func Children(cells *cellarray.CellArray, res int, opts ...engine.Option) (*cellarray.List, error) {
	if err := cell.CheckResolution(res); err != nil {
		return nil, err
	}
	return cellarray.MapList("children", cells, func(c cell.Cell) ([]cell.Cell, bool, error) {
		if res < c.Resolution() {
			return nil, false, nil
		}
		children, err := childrenOf(c, res)
		return children, err == nil, err
	}, opts...)
}

// ChangeResolution moves every cell to res: the parent when res is coarser,
// the center child when it is finer, the cell itself otherwise.
// Order preserving.
func ChangeResolution(cells *cellarray.CellArray, res int, opts ...engine.Option) (*cellarray.CellArray, error) {
	if err := cell.CheckResolution(res); err != nil {
		return nil, err
	}
	return cellarray.Map("change_resolution", cells, func(c cell.Cell) (cell.Cell, bool, error) {
		switch cr := c.Resolution(); {
		case res < cr:
			return parentOf(c, res)
		case res > cr:
			child, err := c.H3().CenterChild(res)
			if err != nil {
				return 0, false, err
			}
			return cell.FromH3(child), true, nil
		default:
			return c, true, nil
		}
	}, opts...)
}

func parentOf(c cell.Cell, res int) (cell.Cell, bool, error) {
	if res > c.Resolution() {
		return 0, false, nil
	}
	if res == c.Resolution() {
		return c, true, nil
	}
	p, err := c.H3().Parent(res)
	if err != nil {
		return 0, false, err
	}
	return cell.FromH3(p), true, nil
}

func childrenOf(c cell.Cell, res int) ([]cell.Cell, error) {
	if res == c.Resolution() {
		return []cell.Cell{c}, nil
	}
	children, err := c.H3().Children(res)
	if err != nil {
		return nil, err
	}
	out := make([]cell.Cell, len(children))
	for i, ch := range children {
		out[i] = cell.FromH3(ch)
	}
	return out, nil
}
