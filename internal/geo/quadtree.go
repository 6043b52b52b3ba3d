package geo

import (
	"github.com/paulmach/orb"
)

const (
	// Максимум объектов в узле до разбиения
	nodeCapacity = 16

	// Максимальная глубина дерева
	maxDepth = 10

	// Минимальный размер узла в метрах
	minNodeSize = 4.0
)

// Item объект индекса: идентификатор и ограничивающий прямоугольник
type Item struct {
	ID    int
	Bound orb.Bound
}

// QuadTree плоский индекс прямоугольников (пятен кадров).
// Строится один раз на результат обработки полета и дальше только читается.
type QuadTree struct {
	root *node
	size int
}

type node struct {
	bounds orb.Bound
	items  []Item // объекты, не помещающиеся целиком ни в один дочерний узел
	depth  int

	// nil если лист
	nw, ne, sw, se *node
}

// NewQuadTree создает дерево, покрывающее bounds
func NewQuadTree(bounds orb.Bound) *QuadTree {
	return &QuadTree{
		root: &node{bounds: bounds},
	}
}

// Insert добавляет объект; объекты вне границ корня игнорируются
func (qt *QuadTree) Insert(item Item) bool {
	if !contains(qt.root.bounds, item.Bound) {
		return false
	}
	qt.root.insert(item)
	qt.size++
	return true
}

// QueryPoint возвращает объекты, чей прямоугольник содержит точку
func (qt *QuadTree) QueryPoint(p orb.Point) []Item {
	var result []Item
	qt.root.queryPoint(p, &result)
	return result
}

// QueryBound возвращает объекты, пересекающие прямоугольник
func (qt *QuadTree) QueryBound(b orb.Bound) []Item {
	var result []Item
	qt.root.queryBound(b, &result)
	return result
}

// Size количество объектов
func (qt *QuadTree) Size() int {
	return qt.size
}

func (n *node) insert(item Item) {
	if n.nw == nil {
		n.items = append(n.items, item)
		if len(n.items) > nodeCapacity && n.shouldSplit() {
			n.split()
		}
		return
	}

	if child := n.childFor(item.Bound); child != nil {
		child.insert(item)
		return
	}
	n.items = append(n.items, item)
}

// childFor дочерний узел, целиком содержащий b, или nil
func (n *node) childFor(b orb.Bound) *node {
	for _, child := range []*node{n.nw, n.ne, n.sw, n.se} {
		if contains(child.bounds, b) {
			return child
		}
	}
	return nil
}

func (n *node) shouldSplit() bool {
	return n.depth < maxDepth &&
		n.bounds.Max.X()-n.bounds.Min.X() > minNodeSize &&
		n.bounds.Max.Y()-n.bounds.Min.Y() > minNodeSize
}

func (n *node) split() {
	center := n.bounds.Center()
	minX, minY := n.bounds.Min.X(), n.bounds.Min.Y()
	maxX, maxY := n.bounds.Max.X(), n.bounds.Max.Y()
	cx, cy := center.X(), center.Y()

	n.nw = &node{bounds: orb.Bound{Min: orb.Point{minX, cy}, Max: orb.Point{cx, maxY}}, depth: n.depth + 1}
	n.ne = &node{bounds: orb.Bound{Min: orb.Point{cx, cy}, Max: orb.Point{maxX, maxY}}, depth: n.depth + 1}
	n.sw = &node{bounds: orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{cx, cy}}, depth: n.depth + 1}
	n.se = &node{bounds: orb.Bound{Min: orb.Point{cx, minY}, Max: orb.Point{maxX, cy}}, depth: n.depth + 1}

	old := n.items
	n.items = nil
	for _, item := range old {
		if child := n.childFor(item.Bound); child != nil {
			child.insert(item)
		} else {
			n.items = append(n.items, item)
		}
	}
}

func (n *node) queryPoint(p orb.Point, result *[]Item) {
	if !n.bounds.Contains(p) {
		return
	}
	for _, item := range n.items {
		if item.Bound.Contains(p) {
			*result = append(*result, item)
		}
	}
	if n.nw != nil {
		n.nw.queryPoint(p, result)
		n.ne.queryPoint(p, result)
		n.sw.queryPoint(p, result)
		n.se.queryPoint(p, result)
	}
}

func (n *node) queryBound(b orb.Bound, result *[]Item) {
	if !n.bounds.Intersects(b) {
		return
	}
	for _, item := range n.items {
		if item.Bound.Intersects(b) {
			*result = append(*result, item)
		}
	}
	if n.nw != nil {
		n.nw.queryBound(b, result)
		n.ne.queryBound(b, result)
		n.sw.queryBound(b, result)
		n.se.queryBound(b, result)
	}
}

// contains целиком ли inner внутри outer
func contains(outer, inner orb.Bound) bool {
	return outer.Contains(inner.Min) && outer.Contains(inner.Max)
}
