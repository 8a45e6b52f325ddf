package psd

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"testing"
)

func createCanvas(width, height int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{200, 100, 50, 255})
		}
	}
	return img
}

func TestEncodeHeader(t *testing.T) {
	canvas := createCanvas(64, 48)
	layers := []Layer{
		{Name: "Background", Image: canvas, Hidden: true},
		{Name: "cell", Image: createCanvas(32, 24), Offset: image.Pt(8, 8)},
	}

	var buf bytes.Buffer
	if err := Encode(&buf, canvas, layers); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	data := buf.Bytes()

	if string(data[0:4]) != "8BPS" {
		t.Errorf("Expected 8BPS signature, got %q", data[0:4])
	}
	if binary.BigEndian.Uint16(data[4:6]) != 1 {
		t.Error("Expected version 1")
	}
	if binary.BigEndian.Uint16(data[12:14]) != 4 {
		t.Error("Expected 4 channels")
	}
	if h := binary.BigEndian.Uint32(data[14:18]); h != 48 {
		t.Errorf("Expected height 48, got %d", h)
	}
	if w := binary.BigEndian.Uint32(data[18:22]); w != 64 {
		t.Errorf("Expected width 64, got %d", w)
	}
	if binary.BigEndian.Uint16(data[22:24]) != 8 {
		t.Error("Expected 8-bit depth")
	}
	if binary.BigEndian.Uint16(data[24:26]) != 3 {
		t.Error("Expected RGB color mode")
	}
}

func TestEncodeLayerCount(t *testing.T) {
	canvas := createCanvas(16, 16)
	layers := []Layer{
		{Name: "Background", Image: canvas, Hidden: true},
		{Name: "a", Image: createCanvas(8, 8)},
		{Name: "b", Image: createCanvas(8, 8), Offset: image.Pt(8, 8)},
	}

	var buf bytes.Buffer
	if err := Encode(&buf, canvas, layers); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	data := buf.Bytes()

	// header (26) + empty color mode (4) + empty resources (4) +
	// layer/mask section length (4) + layer info length (4) -> layer count
	count := binary.BigEndian.Uint16(data[42:44])
	if count != 3 {
		t.Errorf("Expected 3 layers, got %d", count)
	}
}

func TestEncodeLayerRecord(t *testing.T) {
	canvas := createCanvas(16, 16)
	layers := []Layer{
		{Name: "only", Image: createCanvas(10, 6), Offset: image.Pt(3, 2)},
	}

	var buf bytes.Buffer
	if err := Encode(&buf, canvas, layers); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	data := buf.Bytes()

	// first layer record starts right after the layer count
	rec := data[44:]
	top := int32(binary.BigEndian.Uint32(rec[0:4]))
	left := int32(binary.BigEndian.Uint32(rec[4:8]))
	bottom := int32(binary.BigEndian.Uint32(rec[8:12]))
	right := int32(binary.BigEndian.Uint32(rec[12:16]))
	if top != 2 || left != 3 || bottom != 8 || right != 13 {
		t.Errorf("Expected rect (2,3,8,13), got (%d,%d,%d,%d)", top, left, bottom, right)
	}
	if ch := binary.BigEndian.Uint16(rec[16:18]); ch != 4 {
		t.Errorf("Expected 4 channels in layer record, got %d", ch)
	}
	// channel entries: id int16 + length uint32, ids 0, 1, 2, -1
	if id := int16(binary.BigEndian.Uint16(rec[18:20])); id != 0 {
		t.Errorf("Expected first channel id 0, got %d", id)
	}
	if id := int16(binary.BigEndian.Uint16(rec[36:38])); id != -1 {
		t.Errorf("Expected alpha channel id -1, got %d", id)
	}
	wantLen := uint32(2 + 10*6)
	if l := binary.BigEndian.Uint32(rec[20:24]); l != wantLen {
		t.Errorf("Expected channel length %d, got %d", wantLen, l)
	}
	if string(rec[42:46]) != "8BIM" || string(rec[46:50]) != "norm" {
		t.Errorf("Expected 8BIM/norm blend signature, got %q %q", rec[42:46], rec[46:50])
	}
	if rec[50] != 255 {
		t.Errorf("Expected opacity 255, got %d", rec[50])
	}
	if rec[52] != 0x00 {
		t.Errorf("Expected visible flags, got %#x", rec[52])
	}
}

func TestEncodeHiddenFlag(t *testing.T) {
	canvas := createCanvas(8, 8)
	layers := []Layer{
		{Name: "bg", Image: canvas, Hidden: true},
	}

	var buf bytes.Buffer
	if err := Encode(&buf, canvas, layers); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	data := buf.Bytes()

	rec := data[44:]
	if rec[52] != 0x02 {
		t.Errorf("Expected hidden flag 0x02, got %#x", rec[52])
	}
}

func TestEncodeRejectsEmptyInput(t *testing.T) {
	canvas := createCanvas(8, 8)
	var buf bytes.Buffer

	if err := Encode(&buf, canvas, nil); err == nil {
		t.Error("Expected error for zero layers")
	}

	empty := image.NewNRGBA(image.Rect(0, 0, 0, 0))
	if err := Encode(&buf, empty, []Layer{{Name: "x", Image: canvas}}); err == nil {
		t.Error("Expected error for empty canvas")
	}
}

func TestPascalString(t *testing.T) {
	got := pascalString("abc")
	if len(got)%4 != 0 {
		t.Errorf("Expected padding to multiple of 4, got length %d", len(got))
	}
	if got[0] != 3 || string(got[1:4]) != "abc" {
		t.Errorf("Expected length-prefixed name, got %v", got)
	}

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	got = pascalString(string(long))
	if got[0] != 255 {
		t.Errorf("Expected names truncated to 255 bytes, got prefix %d", got[0])
	}
}
