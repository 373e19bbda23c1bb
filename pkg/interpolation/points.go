package interpolation

import (
	"gonum.org/v1/gonum/spatial/kdtree"
)

// Pixel is a field sample at integer grid coordinates
type Pixel struct {
	Col, Row float64
	Value    float64
}

// Compare implements the kdtree.Comparable interface
func (p Pixel) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(Pixel)
	switch d {
	case 0:
		return p.Col - q.Col
	case 1:
		return p.Row - q.Row
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions
func (p Pixel) Dims() int { return 2 }

// Distance returns the squared Euclidean distance between two pixels
func (p Pixel) Distance(c kdtree.Comparable) float64 {
	q := c.(Pixel)
	dc := p.Col - q.Col
	dr := p.Row - q.Row
	return dc*dc + dr*dr
}

// Pixels is a collection of Pixel that satisfies kdtree.Interface
type Pixels []Pixel

func (p Pixels) Index(i int) kdtree.Comparable         { return p[i] }
func (p Pixels) Len() int                              { return len(p) }
func (p Pixels) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p Pixels) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(pixelPlane{Pixels: p, Dim: d}, kdtree.MedianOfRandoms(pixelPlane{Pixels: p, Dim: d}, 100))
}

// pixelPlane implements sort.Interface and kdtree.SortSlicer for Pixels
type pixelPlane struct {
	Pixels
	kdtree.Dim
}

func (p pixelPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.Pixels[i].Col < p.Pixels[j].Col
	case 1:
		return p.Pixels[i].Row < p.Pixels[j].Row
	default:
		panic("illegal dimension")
	}
}

func (p pixelPlane) Slice(start, end int) kdtree.SortSlicer {
	return pixelPlane{Pixels: p.Pixels[start:end], Dim: p.Dim}
}

func (p pixelPlane) Swap(i, j int) {
	p.Pixels[i], p.Pixels[j] = p.Pixels[j], p.Pixels[i]
}
