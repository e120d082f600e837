package pacs

import (
	"bytes"
	"encoding/binary"
)

const (
	placeholderSide = 32 // pixels per edge
)

// PlaceholderImage returns a small 24-bit BMP with a gray diagonal-stripe
// pattern, served when the preview server is unavailable and fallback is
// enabled. The pattern is deliberately distinct from any plausible medical
// image so a misrouted placeholder is obvious on screen.
func PlaceholderImage() []byte {
	const (
		headerSize = 14
		infoSize   = 40
	)
	rowSize := ((placeholderSide*3 + 3) / 4) * 4 // rows pad to 4 bytes
	pixelBytes := rowSize * placeholderSide
	fileSize := headerSize + infoSize + pixelBytes

	var buf bytes.Buffer
	buf.Grow(fileSize)

	// BITMAPFILEHEADER
	buf.WriteString("BM")
	binary.Write(&buf, binary.LittleEndian, uint32(fileSize))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	binary.Write(&buf, binary.LittleEndian, uint32(headerSize+infoSize))

	// BITMAPINFOHEADER
	binary.Write(&buf, binary.LittleEndian, uint32(infoSize))
	binary.Write(&buf, binary.LittleEndian, int32(placeholderSide))
	binary.Write(&buf, binary.LittleEndian, int32(placeholderSide))
	binary.Write(&buf, binary.LittleEndian, uint16(1))  // planes
	binary.Write(&buf, binary.LittleEndian, uint16(24)) // bits per pixel
	binary.Write(&buf, binary.LittleEndian, uint32(0))  // no compression
	binary.Write(&buf, binary.LittleEndian, uint32(pixelBytes))
	binary.Write(&buf, binary.LittleEndian, int32(2835)) // 72 DPI
	binary.Write(&buf, binary.LittleEndian, int32(2835))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	binary.Write(&buf, binary.LittleEndian, uint32(0))

	row := make([]byte, rowSize)
	for y := 0; y < placeholderSide; y++ {
		for x := 0; x < placeholderSide; x++ {
			shade := byte(0x30)
			if (x+y)%8 < 4 {
				shade = 0x90
			}
			row[x*3] = shade
			row[x*3+1] = shade
			row[x*3+2] = shade
		}
		buf.Write(row)
	}
	return buf.Bytes()
}

// IsPlaceholder reports whether the given image bytes are the fallback
// placeholder. The validation harness uses it to distinguish a degraded
// response from a real preview.
func IsPlaceholder(img []byte) bool {
	return bytes.Equal(img, PlaceholderImage())
}
