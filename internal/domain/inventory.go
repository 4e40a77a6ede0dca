package domain

import (
	"context"
	"slices"
)

// Point is a physical umbrella-loan station.
type Point struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Count    int    `json:"count"`
}

// Inventory is the shared list of points plus the version token it was read at.
type Inventory struct {
	Points  []Point
	Version string
}

// Find returns the index of the point with the given id, or -1.
func (inv *Inventory) Find(pointID string) int {
	return slices.IndexFunc(inv.Points, func(p Point) bool { return p.ID == pointID })
}

// Clone returns a copy whose Points slice can be mutated independently.
func (inv *Inventory) Clone() *Inventory {
	return &Inventory{Points: slices.Clone(inv.Points), Version: inv.Version}
}

// DefaultPoints is the inventory written the first time none is found.
func DefaultPoints() []Point {
	return []Point{
		{ID: "point001", Name: "图书馆门口", Location: "图书馆正门左侧", Count: 10},
		{ID: "point002", Name: "教学楼A座", Location: "教学楼A座大厅", Count: 8},
		{ID: "point003", Name: "食堂门口", Location: "第一食堂正门", Count: 12},
		{ID: "point004", Name: "宿舍区", Location: "1号楼门口", Count: 5},
	}
}

// InventoryRepository defines data access for the shared inventory document
type InventoryRepository interface {
	Get(ctx context.Context) (*Inventory, error)
	Put(ctx context.Context, points []Point, expectedVersion string) (string, error)
}
