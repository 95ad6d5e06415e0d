package views

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/sunshineplan/imgconv"
)

// renderQR converts a string to a compact QR code using Unicode half-block
// characters.
func renderQR(content string) (string, error) {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "", err
	}
	return renderBitmap(qr.Bitmap()), nil
}

// renderQRImage renders a QR code delivered as an image, either a data URL
// or raw PNG bytes.
func renderQRImage(dataURL string, raw []byte) (string, error) {
	if len(raw) == 0 {
		_, payload, ok := strings.Cut(dataURL, ",")
		if !ok {
			payload = dataURL
		}
		var err error
		if raw, err = base64.StdEncoding.DecodeString(payload); err != nil {
			return "", err
		}
	}
	img, err := imgconv.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	bitmap, err := imageBitmap(img)
	if err != nil {
		return "", err
	}
	return renderBitmap(bitmap), nil
}

// imageBitmap samples a QR image back into one bool per module. The module
// size is taken from the top-left finder pattern, which is seven modules
// wide.
func imageBitmap(img image.Image) ([][]bool, error) {
	b := img.Bounds()
	dark := func(x, y int) bool {
		r, g, bl, a := img.At(x, y).RGBA()
		if a < 0x8000 {
			return false
		}
		return (r+g+bl)/3 < 0x8000
	}

	// Find the first dark pixel scanning rows from the top.
	left, top := -1, -1
	for y := b.Min.Y; y < b.Max.Y && top < 0; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if dark(x, y) {
				left, top = x, y
				break
			}
		}
	}
	if top < 0 {
		return nil, errors.New("no QR code in image")
	}
	run := 0
	for x := left; x < b.Max.X && dark(x, top); x++ {
		run++
	}
	module := float64(run) / 7
	if module < 1 {
		return nil, errors.New("QR code too small to read")
	}

	// The code is square; its width follows from the rightmost dark pixel
	// of the finder row.
	right := left
	for x := b.Max.X - 1; x > left; x-- {
		if dark(x, top) {
			right = x
			break
		}
	}
	n := int(float64(right-left+1)/module + 0.5)
	if n < 21 {
		return nil, errors.New("QR code too small to read")
	}

	const quiet = 2
	size := n + 2*quiet
	bitmap := make([][]bool, size)
	for row := range bitmap {
		bitmap[row] = make([]bool, size)
	}
	for row := range n {
		for col := range n {
			x := left + int((float64(col)+0.5)*module)
			y := top + int((float64(row)+0.5)*module)
			if x < b.Max.X && y < b.Max.Y {
				bitmap[row+quiet][col+quiet] = dark(x, y)
			}
		}
	}
	return bitmap, nil
}

// renderBitmap draws two bitmap rows per terminal line.
func renderBitmap(bitmap [][]bool) string {
	rows := len(bitmap)
	cols := 0
	if rows > 0 {
		cols = len(bitmap[0])
	}

	var sb strings.Builder
	for y := 0; y < rows; y += 2 {
		sb.WriteString("  ")
		for x := range cols {
			top := bitmap[y][x]
			bot := y+1 < rows && bitmap[y+1][x]
			switch {
			case top && bot:
				sb.WriteRune('█')
			case top:
				sb.WriteRune('▀')
			case bot:
				sb.WriteRune('▄')
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}
	return sb.String()
}
