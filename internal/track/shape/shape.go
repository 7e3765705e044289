package shape

import "voxelwatch.ai/internal/track/geom"

// Tag is the coarse shape of a finished construction session.
type Tag string

const (
	Floor     Tag = "FLOOR"
	Wall      Tag = "WALL"
	Pillar    Tag = "PILLAR"
	Line      Tag = "LINE"
	Cube      Tag = "CUBE"
	Structure Tag = "STRUCTURE"
)

// Classify maps bounding-box dimensions to a Tag. Rules overlap, so the
// order below is significant: the first match wins.
func Classify(width, height, depth int) Tag {
	switch {
	case height == 1 && width > 2 && depth > 2:
		return Floor
	case height > width && height > depth:
		if width == 1 || depth == 1 {
			return Pillar
		}
		return Wall
	case width == 1 && depth > 2, depth == 1 && width > 2:
		return Line
	case geom.AbsInt(width-depth) <= 2 && geom.AbsInt(width-height) <= 2:
		return Cube
	default:
		return Structure
	}
}
