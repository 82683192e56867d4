package elevatr

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"
	"github.com/klauspost/compress/zlib"
	"golang.org/x/image/tiff/lzw"
)

// TIFF field values.
const (
	compressionNone        = 1
	compressionLZW         = 5
	compressionDeflate     = 8
	compressionDeflateOld  = 32946
	predictorNone          = 1
	predictorHorizontal    = 2
	sampleFormatUint       = 1
	sampleFormatInt        = 2
	sampleFormatIEEEFP     = 3
	photometricBlackIsZero = 1
)

// A geoTIFFIFD is a struct into which github.com/google/tiff can unmarshal an
// IFD.
type geoTIFFIFD struct {
	ImageWidth          uint32    `tiff:"field,tag=256"`
	ImageLength         uint32    `tiff:"field,tag=257"`
	BitsPerSample       uint16    `tiff:"field,tag=258"`
	Compression         uint16    `tiff:"field,tag=259"`
	StripOffsets        []uint64  `tiff:"field,tag=273"`
	SamplesPerPixel     uint16    `tiff:"field,tag=277"`
	RowsPerStrip        uint32    `tiff:"field,tag=278"`
	StripByteCounts     []uint64  `tiff:"field,tag=279"`
	PlanarConfiguration uint16    `tiff:"field,tag=284"`
	Predictor           uint16    `tiff:"field,tag=317"`
	TileWidth           uint32    `tiff:"field,tag=322"`
	TileLength          uint32    `tiff:"field,tag=323"`
	TileOffsets         []uint64  `tiff:"field,tag=324"`
	TileByteCounts      []uint64  `tiff:"field,tag=325"`
	SampleFormat        uint16    `tiff:"field,tag=339"`
	ModelPixelScaleTag  []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag    []float64 `tiff:"field,tag=33922"`
	GeoKeyDirectoryTag  []uint16  `tiff:"field,tag=34735"`
	GeoDoubleParamsTag  []float64 `tiff:"field,tag=34736"`
	GeoASCIIParamsTag   string    `tiff:"field,tag=34737"`
	GDALNoData          string    `tiff:"field,tag=42113"`
}

// A chunk is a strip or a tile of a TIFF image.
type chunk struct {
	col, row      int // Top left pixel.
	width, height int // Stored size; tiles may extend beyond the image.
	offset, count uint64
}

// DecodeGeoTIFF decodes a single band GeoTIFF. knownCRS is used when the file
// does not reference an EPSG code and noData is used when the file does not
// declare a no-data value. Errors wrap ErrDecode.
func DecodeGeoTIFF(data []byte, knownCRS string, noData float64) (*Grid, error) {
	grid, err := decodeGeoTIFF(data, knownCRS, noData)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return grid, nil
}

func decodeGeoTIFF(data []byte, knownCRS string, noData float64) (*Grid, error) {
	var byteOrder binary.ByteOrder
	switch {
	case len(data) < 8:
		return nil, errors.New("short TIFF header")
	case data[0] == 'I' && data[1] == 'I':
		byteOrder = binary.LittleEndian
	case data[0] == 'M' && data[1] == 'M':
		byteOrder = binary.BigEndian
	default:
		return nil, errors.New("not a TIFF file")
	}

	tiffTIFF, err := tiff.Parse(bytes.NewReader(data), tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return nil, err
	}
	if len(tiffTIFF.IFDs()) == 0 {
		return nil, errors.New("no IFDs")
	}

	// Any further IFDs are overviews or masks.
	var ifd geoTIFFIFD
	if err := tiff.UnmarshalIFD(tiffTIFF.IFDs()[0], &ifd); err != nil {
		return nil, err
	}

	if ifd.SamplesPerPixel > 1 {
		return nil, fmt.Errorf("%d samples per pixel: %w", ifd.SamplesPerPixel, errors.ErrUnsupported)
	}
	dataType, err := tiffDataType(ifd.BitsPerSample, ifd.SampleFormat)
	if err != nil {
		return nil, err
	}
	if ifd.Predictor != 0 && ifd.Predictor != predictorNone &&
		(ifd.Predictor != predictorHorizontal || ifd.SampleFormat == sampleFormatIEEEFP) {
		return nil, fmt.Errorf("predictor %d: %w", ifd.Predictor, errors.ErrUnsupported)
	}

	transform, err := tiffTransform(&ifd)
	if err != nil {
		return nil, err
	}

	crs := knownCRS
	if len(ifd.GeoKeyDirectoryTag) != 0 {
		geoKeys, err := ParseGeoKeys(ifd.GeoKeyDirectoryTag, ifd.GeoDoubleParamsTag, []byte(ifd.GeoASCIIParamsTag))
		if err != nil {
			return nil, err
		}
		if fileCRS, ok := geoKeys.CRS(); ok {
			crs = fileCRS
		} else if citation := strings.TrimSuffix(geoKeys.ASCIIParams[GeoKeyGTCitation], "|"); crs == "" && citation != "" {
			crs = citation
		}
		if geoKeys.Params[GeoKeyGTRasterType] == RasterPixelIsPoint {
			transform.OriginX -= transform.PixelWidth / 2
			transform.OriginY += transform.PixelHeight / 2
		}
	}
	if crs == "" {
		return nil, errors.New("unknown CRS")
	}

	if s := strings.Trim(ifd.GDALNoData, " \x00"); s != "" {
		noData, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("GDAL_NODATA: %w", err)
		}
	}

	width, height := int(ifd.ImageWidth), int(ifd.ImageLength)
	if width == 0 || height == 0 {
		return nil, errors.New("empty image")
	}
	if int64(width)*int64(height) > maxGridPixels {
		return nil, fmt.Errorf("%dx%d image is too large", width, height)
	}
	chunks, err := tiffChunks(&ifd)
	if err != nil {
		return nil, err
	}

	grid := NewGrid(width, height, transform, crs, dataType, noData)
	bytesPerSample := int(ifd.BitsPerSample) / 8
	for _, c := range chunks {
		if c.offset > uint64(len(data)) || c.count > uint64(len(data))-c.offset {
			return nil, errShortRead
		}
		chunkData, err := decompressChunk(ifd.Compression, data[c.offset:c.offset+c.count], c.width*c.height*bytesPerSample)
		if err != nil {
			return nil, err
		}
		if ifd.Predictor == predictorHorizontal {
			undoHorizontalPredictor(chunkData, c.width, bytesPerSample, byteOrder)
		}
		for row := range c.height {
			gridRow := c.row + row
			if gridRow >= height {
				break
			}
			for col := range c.width {
				gridCol := c.col + col
				if gridCol >= width {
					break
				}
				i := (row*c.width + col) * bytesPerSample
				grid.Data[gridRow*width+gridCol] = decodeSample(chunkData[i:i+bytesPerSample], ifd.BitsPerSample, ifd.SampleFormat, byteOrder)
			}
		}
	}

	return grid, nil
}

var errShortRead = errors.New("short read")

func tiffDataType(bitsPerSample, sampleFormat uint16) (DataType, error) {
	if sampleFormat == 0 {
		sampleFormat = sampleFormatUint
	}
	switch {
	case bitsPerSample == 8 && sampleFormat == sampleFormatUint:
		return Int16, nil
	case bitsPerSample == 16 && sampleFormat == sampleFormatInt:
		return Int16, nil
	case bitsPerSample == 16 && sampleFormat == sampleFormatUint:
		return Int32, nil
	case bitsPerSample == 32 && sampleFormat == sampleFormatInt:
		return Int32, nil
	case bitsPerSample == 32 && sampleFormat == sampleFormatIEEEFP:
		return Float32, nil
	case bitsPerSample == 64 && sampleFormat == sampleFormatIEEEFP:
		return Float64, nil
	default:
		return 0, fmt.Errorf("%d bits per sample with sample format %d: %w", bitsPerSample, sampleFormat, errors.ErrUnsupported)
	}
}

func tiffTransform(ifd *geoTIFFIFD) (Transform, error) {
	if len(ifd.ModelPixelScaleTag) < 2 || len(ifd.ModelTiepointTag) < 6 {
		return Transform{}, errors.New("missing georeferencing")
	}
	scaleX, scaleY := ifd.ModelPixelScaleTag[0], ifd.ModelPixelScaleTag[1]
	if scaleX <= 0 || scaleY <= 0 {
		return Transform{}, fmt.Errorf("pixel scale %g, %g: %w", scaleX, scaleY, errors.ErrUnsupported)
	}
	i, j := ifd.ModelTiepointTag[0], ifd.ModelTiepointTag[1]
	x, y := ifd.ModelTiepointTag[3], ifd.ModelTiepointTag[4]
	return Transform{
		OriginX:     x - i*scaleX,
		OriginY:     y + j*scaleY,
		PixelWidth:  scaleX,
		PixelHeight: scaleY,
	}, nil
}

func tiffChunks(ifd *geoTIFFIFD) ([]chunk, error) {
	width, height := int(ifd.ImageWidth), int(ifd.ImageLength)

	if ifd.TileWidth != 0 {
		tileWidth, tileLength := int(ifd.TileWidth), int(ifd.TileLength)
		if tileLength == 0 {
			return nil, errors.New("zero tile length")
		}
		if int64(tileWidth)*int64(tileLength) > maxGridPixels {
			return nil, fmt.Errorf("%dx%d tiles are too large", tileWidth, tileLength)
		}
		tilesAcross := (width + tileWidth - 1) / tileWidth
		tilesDown := (height + tileLength - 1) / tileLength
		if len(ifd.TileOffsets) != tilesAcross*tilesDown || len(ifd.TileByteCounts) != tilesAcross*tilesDown {
			return nil, errors.New("incorrect number of tile byte counts or offsets")
		}
		chunks := make([]chunk, 0, tilesAcross*tilesDown)
		for r := range tilesDown {
			for c := range tilesAcross {
				index := c + tilesAcross*r
				chunks = append(chunks, chunk{
					col:    c * tileWidth,
					row:    r * tileLength,
					width:  tileWidth,
					height: tileLength,
					offset: ifd.TileOffsets[index],
					count:  ifd.TileByteCounts[index],
				})
			}
		}
		return chunks, nil
	}

	rowsPerStrip := int(ifd.RowsPerStrip)
	if rowsPerStrip == 0 || rowsPerStrip > height {
		rowsPerStrip = height
	}
	stripsPerImage := (height + rowsPerStrip - 1) / rowsPerStrip
	if len(ifd.StripOffsets) != stripsPerImage || len(ifd.StripByteCounts) != stripsPerImage {
		return nil, errors.New("incorrect number of strip byte counts or offsets")
	}
	chunks := make([]chunk, 0, stripsPerImage)
	for i := range stripsPerImage {
		row := i * rowsPerStrip
		chunks = append(chunks, chunk{
			col:    0,
			row:    row,
			width:  width,
			height: min(rowsPerStrip, height-row),
			offset: ifd.StripOffsets[i],
			count:  ifd.StripByteCounts[i],
		})
	}
	return chunks, nil
}

// decompressChunk decompresses compressedData into exactly size bytes.
func decompressChunk(compression uint16, compressedData []byte, size int) ([]byte, error) {
	var r io.Reader
	switch compression {
	case 0, compressionNone:
		if len(compressedData) < size {
			return nil, errShortRead
		}
		return compressedData[:size], nil
	case compressionLZW:
		lzwReader := lzw.NewReader(bytes.NewReader(compressedData), lzw.MSB, 8)
		defer lzwReader.Close()
		r = lzwReader
	case compressionDeflate, compressionDeflateOld:
		zlibReader, err := zlib.NewReader(bytes.NewReader(compressedData))
		if err != nil {
			return nil, err
		}
		defer zlibReader.Close()
		r = zlibReader
	default:
		return nil, fmt.Errorf("compression %d: %w", compression, errors.ErrUnsupported)
	}
	chunkData := make([]byte, size)
	if _, err := io.ReadFull(r, chunkData); err != nil {
		return nil, err
	}
	return chunkData, nil
}

// undoHorizontalPredictor reverses TIFF predictor 2 in place.
func undoHorizontalPredictor(chunkData []byte, width, bytesPerSample int, byteOrder binary.ByteOrder) {
	rowBytes := width * bytesPerSample
	for rowStart := 0; rowStart+rowBytes <= len(chunkData); rowStart += rowBytes {
		row := chunkData[rowStart : rowStart+rowBytes]
		switch bytesPerSample {
		case 1:
			for i := 1; i < width; i++ {
				row[i] += row[i-1]
			}
		case 2:
			for i := 1; i < width; i++ {
				prev := byteOrder.Uint16(row[2*(i-1):])
				byteOrder.PutUint16(row[2*i:], byteOrder.Uint16(row[2*i:])+prev)
			}
		case 4:
			for i := 1; i < width; i++ {
				prev := byteOrder.Uint32(row[4*(i-1):])
				byteOrder.PutUint32(row[4*i:], byteOrder.Uint32(row[4*i:])+prev)
			}
		}
	}
}

func decodeSample(b []byte, bitsPerSample, sampleFormat uint16, byteOrder binary.ByteOrder) float64 {
	switch {
	case bitsPerSample == 8:
		return float64(b[0])
	case bitsPerSample == 16 && sampleFormat == sampleFormatInt:
		return float64(int16(byteOrder.Uint16(b)))
	case bitsPerSample == 16:
		return float64(byteOrder.Uint16(b))
	case bitsPerSample == 32 && sampleFormat == sampleFormatInt:
		return float64(int32(byteOrder.Uint32(b)))
	case bitsPerSample == 32:
		return float64(math.Float32frombits(byteOrder.Uint32(b)))
	default:
		return math.Float64frombits(byteOrder.Uint64(b))
	}
}
