// Package style implements the native side of source ownership: the Source
// resource and the Style that owns sources by ID.
//
// A Style holds at most one Source per ID and owns every Source it holds.
// AddSource moves ownership in, RemoveSource moves it back out to the caller,
// and DestroySource or Close destroys sources in place.
//
// Every Source has a single peer slot. Whatever Dropper is installed there is
// owned by the Source and is dropped when the Source is destroyed, which is
// how a Style reaches back to a bridge object without holding it itself.
//
// Documents describe a Style in YAML:
//
//	sources:
//	  - id: terrain
//	    kind: raster-dem
//	    attribution: "© Terrain Tiles"
//	pending:
//	  - id: parcels
//	    kind: geojson
//
// Load builds a Style owning every entry under sources. Entries under pending
// are only described; the caller creates and attaches them.
package style
