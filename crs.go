package elevatr

import (
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

const (
	earthRadius           = 6378137
	webMercatorHalfExtent = math.Pi * earthRadius
)

var (
	webMercatorAliases = map[int]struct{}{
		3857:   {},
		3785:   {},
		900913: {},
		102100: {},
		102113: {},
	}
	geographicEPSGCodes = map[int]struct{}{
		4148: {},
		4167: {},
		4258: {},
		4267: {},
		4269: {},
		4283: {},
		4326: {},
		4612: {},
		4617: {},
		4674: {},
		4979: {},
	}
)

// normalizeCRS returns crs with surrounding space removed and any EPSG
// authority prefix upper-cased.
func normalizeCRS(crs string) string {
	crs = strings.TrimSpace(crs)
	if code, ok := epsgCode(crs); ok {
		return "EPSG:" + strconv.Itoa(code)
	}
	return crs
}

// epsgCode returns the code of an "EPSG:<code>" CRS identifier.
func epsgCode(crs string) (int, bool) {
	crs = strings.TrimSpace(crs)
	if len(crs) < 6 || !strings.EqualFold(crs[:5], "epsg:") {
		return 0, false
	}
	code, err := strconv.Atoi(crs[5:])
	if err != nil || code <= 0 {
		return 0, false
	}
	return code, true
}

func isWebMercator(crs string) bool {
	code, ok := epsgCode(crs)
	if !ok {
		return false
	}
	_, ok = webMercatorAliases[code]
	return ok
}

func isWGS84(crs string) bool {
	code, ok := epsgCode(crs)
	return ok && code == 4326
}

func isGeographicCRS(crs string) bool {
	if code, ok := epsgCode(crs); ok {
		_, ok := geographicEPSGCodes[code]
		return ok
	}
	lower := strings.ToLower(crs)
	return strings.Contains(lower, "+proj=longlat") ||
		strings.Contains(lower, "+proj=latlong") ||
		strings.HasPrefix(lower, "geogcs[") ||
		strings.HasPrefix(lower, "geogcrs[")
}

// crsUnit returns the name of the horizontal unit of crs.
func crsUnit(crs string) string {
	lower := strings.ToLower(crs)
	switch {
	case isGeographicCRS(crs):
		return "degrees"
	case strings.Contains(lower, "+units=us-ft"):
		return "US survey feet"
	case strings.Contains(lower, "+units=ft"):
		return "feet"
	default:
		return "meters"
	}
}

func sameCRS(a, b string) bool {
	if isWebMercator(a) && isWebMercator(b) {
		return true
	}
	return normalizeCRS(a) == normalizeCRS(b)
}

func lonLatToWebMercator(lon, lat float64) (float64, float64) {
	lat = clampLat(lat)
	x := earthRadius * lon * math.Pi / 180
	y := earthRadius * math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))
	return x, y
}

func webMercatorToLonLat(x, y float64) (float64, float64) {
	lon := x / earthRadius * 180 / math.Pi
	lat := math.Atan(math.Sinh(y/earthRadius)) * 180 / math.Pi
	return lon, lat
}

// webMercatorTileBound returns the extent of tile in EPSG:3857.
func webMercatorTileBound(tile maptile.Tile) orb.Bound {
	size := 2 * webMercatorHalfExtent / float64(uint32(1)<<uint32(tile.Z))
	minX := -webMercatorHalfExtent + float64(tile.X)*size
	maxY := webMercatorHalfExtent - float64(tile.Y)*size
	return orb.Bound{
		Min: orb.Point{minX, maxY - size},
		Max: orb.Point{minX + size, maxY},
	}
}
