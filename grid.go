package main

const (
	MapWidth   = 50   // tiles
	MapHeight  = 50   // tiles
	TileSize   = 20.0 // pixels per tile
	TotalTiles = MapWidth * MapHeight

	MapWidthPx  = MapWidth * TileSize
	MapHeightPx = MapHeight * TileSize
)

// Cell addresses one tile of the map. Used directly as a map key, so
// territory sets get uniqueness and equality for free.
type Cell struct {
	X int `json:"x" msgpack:"x"`
	Y int `json:"y" msgpack:"y"`
}

// CellAt converts a pixel position to the tile containing it
func CellAt(x, y float64) Cell {
	return Cell{X: int(x / TileSize), Y: int(y / TileSize)}
}

// Center returns the pixel coordinates of the tile's midpoint
func (c Cell) Center() (float64, float64) {
	return float64(c.X)*TileSize + TileSize/2, float64(c.Y)*TileSize + TileSize/2
}

// InBounds reports whether the cell lies on the map
func (c Cell) InBounds() bool {
	return c.X >= 0 && c.X < MapWidth && c.Y >= 0 && c.Y < MapHeight
}

// ClampToMap restricts a pixel position to the map, keeping half a tile
// of margin on every edge so the occupied cell is always in bounds.
func ClampToMap(x, y float64) (float64, float64) {
	return Clamp(x, TileSize/2, MapWidthPx-TileSize/2),
		Clamp(y, TileSize/2, MapHeightPx-TileSize/2)
}
