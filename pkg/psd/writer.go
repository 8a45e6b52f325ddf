// Package psd writes a minimal layered Photoshop document: 8-bit RGBA,
// raw (uncompressed) channel data, one layer record per input layer, and
// the flattened composite as the merged image data readers use as preview.
package psd

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/draw"
	"io"
)

// Layer is one named layer with its placement offset on the canvas.
type Layer struct {
	Name   string
	Image  image.Image
	Offset image.Point
	Hidden bool
}

const (
	signature    = "8BPS"
	version      = 1
	channelCount = 4 // RGBA
	depth        = 8
	colorModeRGB = 3

	blendSignature = "8BIM"
	blendModeNorm  = "norm"

	compressionRaw = 0

	// layer record flags: bit 1 set means the layer is hidden
	flagVisible = 0x00
	flagHidden  = 0x02
)

// Encode writes the document. canvas provides both the document dimensions
// and the merged composite; layers are ordered bottom to top.
func Encode(w io.Writer, canvas image.Image, layers []Layer) error {
	b := canvas.Bounds()
	width, height := b.Dx(), b.Dy()
	if width <= 0 || height <= 0 {
		return fmt.Errorf("psd: empty canvas")
	}
	if len(layers) == 0 {
		return fmt.Errorf("psd: no layers")
	}

	var buf bytes.Buffer

	// file header
	buf.WriteString(signature)
	writeUint16(&buf, version)
	buf.Write(make([]byte, 6))
	writeUint16(&buf, channelCount)
	writeUint32(&buf, uint32(height))
	writeUint32(&buf, uint32(width))
	writeUint16(&buf, depth)
	writeUint16(&buf, colorModeRGB)

	// color mode data and image resources, both empty
	writeUint32(&buf, 0)
	writeUint32(&buf, 0)

	layerInfo, err := encodeLayerInfo(layers)
	if err != nil {
		return err
	}

	// layer and mask info: layer info + empty global layer mask
	writeUint32(&buf, uint32(len(layerInfo)+4))
	buf.Write(layerInfo)
	writeUint32(&buf, 0)

	// merged image data, raw planar RGBA
	writeUint16(&buf, compressionRaw)
	writePlanes(&buf, toNRGBA(canvas))

	_, err = w.Write(buf.Bytes())
	return err
}

func encodeLayerInfo(layers []Layer) ([]byte, error) {
	var records bytes.Buffer
	var channelData bytes.Buffer

	writeUint16(&records, uint16(len(layers)))

	for _, l := range layers {
		img := toNRGBA(l.Image)
		lb := img.Bounds()
		w, h := lb.Dx(), lb.Dy()
		if w <= 0 || h <= 0 {
			return nil, fmt.Errorf("psd: layer %q is empty", l.Name)
		}

		top := int32(l.Offset.Y)
		left := int32(l.Offset.X)
		writeInt32(&records, top)
		writeInt32(&records, left)
		writeInt32(&records, top+int32(h))
		writeInt32(&records, left+int32(w))

		writeUint16(&records, channelCount)
		channelLen := uint32(2 + w*h) // compression marker + raw bytes
		for _, id := range []int16{0, 1, 2, -1} {
			writeInt16(&records, id)
			writeUint32(&records, channelLen)
		}

		records.WriteString(blendSignature)
		records.WriteString(blendModeNorm)
		records.WriteByte(255) // opacity
		records.WriteByte(0)   // clipping: base
		if l.Hidden {
			records.WriteByte(flagHidden)
		} else {
			records.WriteByte(flagVisible)
		}
		records.WriteByte(0) // filler

		name := pascalString(l.Name)
		writeUint32(&records, uint32(4+4+len(name))) // extra data length
		writeUint32(&records, 0)                     // no layer mask
		writeUint32(&records, 0)                     // no blending ranges
		records.Write(name)

		for _, plane := range rgbaPlanes(img) {
			writeUint16(&channelData, compressionRaw)
			channelData.Write(plane)
		}
	}

	var info bytes.Buffer
	body := records.Len() + channelData.Len()
	if body%2 != 0 {
		channelData.WriteByte(0) // section is padded to even length
	}
	writeUint32(&info, uint32(records.Len()+channelData.Len()))
	info.Write(records.Bytes())
	info.Write(channelData.Bytes())
	return info.Bytes(), nil
}

// rgbaPlanes splits the image into R, G, B, A planes, matching the channel
// id order written in the layer record.
func rgbaPlanes(img *image.NRGBA) [][]byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	planes := make([][]byte, 4)
	for i := range planes {
		planes[i] = make([]byte, w*h)
	}
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			planes[0][y*w+x] = row[x*4+0]
			planes[1][y*w+x] = row[x*4+1]
			planes[2][y*w+x] = row[x*4+2]
			planes[3][y*w+x] = row[x*4+3]
		}
	}
	return planes
}

func writePlanes(buf *bytes.Buffer, img *image.NRGBA) {
	for _, plane := range rgbaPlanes(img) {
		buf.Write(plane)
	}
}

// pascalString encodes a layer name as a length-prefixed string padded to a
// multiple of 4 bytes.
func pascalString(s string) []byte {
	if len(s) > 255 {
		s = s[:255]
	}
	out := make([]byte, 0, len(s)+4)
	out = append(out, byte(len(s)))
	out = append(out, s...)
	for len(out)%4 != 0 {
		out = append(out, 0)
	}
	return out
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Bounds().Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	_ = binary.Write(buf, binary.BigEndian, v)
}

func writeInt16(buf *bytes.Buffer, v int16) {
	_ = binary.Write(buf, binary.BigEndian, v)
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	_ = binary.Write(buf, binary.BigEndian, v)
}

func writeInt32(buf *bytes.Buffer, v int32) {
	_ = binary.Write(buf, binary.BigEndian, v)
}
