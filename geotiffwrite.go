package elevatr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"

	"github.com/klauspost/compress/zlib"
)

// A Compression is a compression scheme for written GeoTIFFs.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionDeflate
)

// TIFF field types.
const (
	tiffASCII  = 2
	tiffShort  = 3
	tiffLong   = 4
	tiffDouble = 12
)

// targetStripBytes is the approximate uncompressed size of each strip.
const targetStripBytes = 8192

// A WriteOption sets an option when writing a GeoTIFF.
type WriteOption func(*writeOptions)

type writeOptions struct {
	compression Compression
}

// WithCompression sets the compression of written GeoTIFFs.
func WithCompression(compression Compression) WriteOption {
	return func(o *writeOptions) {
		o.compression = compression
	}
}

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	value []byte
}

// EncodeGeoTIFF writes g to w as a little endian, stripped, single band
// GeoTIFF.
func EncodeGeoTIFF(w io.Writer, g *Grid, options ...WriteOption) error {
	o := &writeOptions{}
	for _, option := range options {
		option(o)
	}

	var compression uint16
	switch o.compression {
	case CompressionNone:
		compression = compressionNone
	case CompressionDeflate:
		compression = compressionDeflate
	default:
		return fmt.Errorf("%w: compression %d", ErrInvalidInput, o.compression)
	}

	bytesPerSample := g.DataType.bytesPerSample()
	rowBytes := g.Width * bytesPerSample
	rowsPerStrip := max(1, min(targetStripBytes/max(rowBytes, 1), g.Height))

	le := binary.LittleEndian
	buf := &bytes.Buffer{}
	buf.Write([]byte{'I', 'I', 42, 0, 0, 0, 0, 0}) // IFD offset is patched below.

	var stripOffsets, stripByteCounts []uint32
	for row0 := 0; row0 < g.Height; row0 += rowsPerStrip {
		row1 := min(row0+rowsPerStrip, g.Height)
		strip := make([]byte, 0, (row1-row0)*rowBytes)
		for _, v := range g.Data[row0*g.Width : row1*g.Width] {
			strip = appendSample(strip, g.DataType, v)
		}
		if compression == compressionDeflate {
			compressed := &bytes.Buffer{}
			zw := zlib.NewWriter(compressed)
			if _, err := zw.Write(strip); err != nil {
				return err
			}
			if err := zw.Close(); err != nil {
				return err
			}
			strip = compressed.Bytes()
		}
		stripOffsets = append(stripOffsets, uint32(buf.Len()))
		stripByteCounts = append(stripByteCounts, uint32(len(strip)))
		buf.Write(strip)
		if buf.Len()%2 == 1 {
			buf.WriteByte(0)
		}
	}

	bitsPerSample, sampleFormat := uint16(8*bytesPerSample), uint16(sampleFormatIEEEFP)
	if g.DataType.IsInteger() {
		sampleFormat = sampleFormatInt
	}

	entries := []ifdEntry{
		longEntry(256, uint32(g.Width)),
		longEntry(257, uint32(g.Height)),
		shortEntry(258, bitsPerSample),
		shortEntry(259, compression),
		shortEntry(262, photometricBlackIsZero),
		longEntry(273, stripOffsets...),
		shortEntry(277, 1),
		longEntry(278, uint32(rowsPerStrip)),
		longEntry(279, stripByteCounts...),
		shortEntry(284, 1),
		shortEntry(339, sampleFormat),
		doubleEntry(33550, g.Transform.PixelWidth, g.Transform.PixelHeight, 0),
		doubleEntry(33922, 0, 0, 0, g.Transform.OriginX, g.Transform.OriginY, 0),
	}
	if code, ok := epsgCode(g.CRS); ok && code < userDefined {
		entries = append(entries, shortEntry(34735, epsgGeoKeyDirectory(code, isGeographicCRS(g.CRS))...))
	} else {
		citation := g.CRS + "|"
		entries = append(entries,
			shortEntry(34735, citationGeoKeyDirectory(len(citation))...),
			asciiEntry(geoASCIIParamsTag, citation),
		)
	}
	entries = append(entries, asciiEntry(42113, formatNoData(g.NoData, g.DataType)))
	slices.SortFunc(entries, func(a, b ifdEntry) int {
		return int(a.tag) - int(b.tag)
	})

	ifdOffset := uint32(buf.Len())
	extraOffset := ifdOffset + 2 + 12*uint32(len(entries)) + 4
	var ifd, extra bytes.Buffer
	ifd.Write(le.AppendUint16(nil, uint16(len(entries))))
	for _, e := range entries {
		ifd.Write(le.AppendUint16(nil, e.tag))
		ifd.Write(le.AppendUint16(nil, e.typ))
		ifd.Write(le.AppendUint32(nil, e.count))
		if len(e.value) <= 4 {
			value := make([]byte, 4)
			copy(value, e.value)
			ifd.Write(value)
			continue
		}
		ifd.Write(le.AppendUint32(nil, extraOffset+uint32(extra.Len())))
		extra.Write(e.value)
		if extra.Len()%2 == 1 {
			extra.WriteByte(0)
		}
	}
	ifd.Write([]byte{0, 0, 0, 0}) // No next IFD.

	buf.Write(ifd.Bytes())
	buf.Write(extra.Bytes())
	result := buf.Bytes()
	le.PutUint32(result[4:8], ifdOffset)
	_, err := w.Write(result)
	return err
}

func appendSample(b []byte, dataType DataType, v float64) []byte {
	le := binary.LittleEndian
	v = dataType.convert(v)
	switch dataType {
	case Int16:
		return le.AppendUint16(b, uint16(int16(v)))
	case Int32:
		return le.AppendUint32(b, uint32(int32(v)))
	case Float32:
		return le.AppendUint32(b, math.Float32bits(float32(v)))
	default:
		return le.AppendUint64(b, math.Float64bits(v))
	}
}

func formatNoData(noData float64, dataType DataType) string {
	switch {
	case math.IsNaN(noData):
		return "nan"
	case dataType.IsInteger():
		return strconv.FormatInt(int64(noData), 10)
	default:
		return strconv.FormatFloat(noData, 'g', -1, 64)
	}
}

func shortEntry(tag uint16, values ...uint16) ifdEntry {
	var value []byte
	for _, v := range values {
		value = binary.LittleEndian.AppendUint16(value, v)
	}
	return ifdEntry{tag: tag, typ: tiffShort, count: uint32(len(values)), value: value}
}

func longEntry(tag uint16, values ...uint32) ifdEntry {
	var value []byte
	for _, v := range values {
		value = binary.LittleEndian.AppendUint32(value, v)
	}
	return ifdEntry{tag: tag, typ: tiffLong, count: uint32(len(values)), value: value}
}

func doubleEntry(tag uint16, values ...float64) ifdEntry {
	var value []byte
	for _, v := range values {
		value = binary.LittleEndian.AppendUint64(value, math.Float64bits(v))
	}
	return ifdEntry{tag: tag, typ: tiffDouble, count: uint32(len(values)), value: value}
}

func asciiEntry(tag uint16, s string) ifdEntry {
	value := append([]byte(s), 0)
	return ifdEntry{tag: tag, typ: tiffASCII, count: uint32(len(value)), value: value}
}
