package depth

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
)

// npyMagic opens every .npy file, followed by format version 1.0.
var npyMagic = []byte{0x93, 'N', 'U', 'M', 'P', 'Y', 1, 0}

// NPYHeader returns the .npy v1.0 preamble for a little-endian float32 array
// of shape (height, width), padded with spaces and a trailing newline so the
// data starts on a 64-byte boundary.
func NPYHeader(width, height int) []byte {
	dict := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d, %d), }", height, width)
	// magic+version (8) + header length (2) + dict + '\n'
	total := len(npyMagic) + 2 + len(dict) + 1
	if rem := total % 64; rem != 0 {
		dict += spaces(64 - rem)
	}
	dict += "\n"

	out := make([]byte, 0, len(npyMagic)+2+len(dict))
	out = append(out, npyMagic...)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(dict)))
	return append(out, dict...)
}

func spaces(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}

// WriteNPY writes the buffer as a NumPy .npy array.
func WriteNPY(w io.Writer, b *Buffer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(NPYHeader(b.Width, b.Height)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, b.Data); err != nil {
		return err
	}
	return bw.Flush()
}

// WriteRaw writes the samples as bare little-endian float32 values.
func WriteRaw(w io.Writer, b *Buffer) error {
	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, b.Data); err != nil {
		return err
	}
	return bw.Flush()
}

// Sidecar describes a raw depth file.
type Sidecar struct {
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	MinDepth float64 `json:"min_depth"`
	MaxDepth float64 `json:"max_depth"`
	Format   string  `json:"format"`
	Units    string  `json:"units"`
	Inverted bool    `json:"inverted,omitempty"`
}

// WriteSidecar writes the JSON description that accompanies WriteRaw output.
func WriteSidecar(w io.Writer, b *Buffer) error {
	st := b.Stats()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Sidecar{
		Width:    b.Width,
		Height:   b.Height,
		MinDepth: st.Min,
		MaxDepth: st.Max,
		Format:   "float32_le",
		Units:    string(b.Units),
		Inverted: b.Inverted,
	})
}

// WritePNG16 writes the buffer normalized over its finite range into a 16-bit
// greyscale PNG. The normalization is lossy; prefer NPY for training.
func WritePNG16(w io.Writer, b *Buffer) error {
	norm := b.DisplayCopy(0)
	img := image.NewGray16(image.Rect(0, 0, b.Width, b.Height))
	for i, n := range norm {
		v := uint16(math.Round(float64(n) * 65535))
		img.Pix[2*i] = byte(v >> 8)
		img.Pix[2*i+1] = byte(v)
	}
	return png.Encode(w, img)
}

// WriteVisualization writes a display PNG of the buffer after gamma remapping,
// either in greyscale or with the Turbo colour map.
func WriteVisualization(w io.Writer, b *Buffer, gamma float64, colorize bool) error {
	norm := b.DisplayCopy(gamma)
	img := image.NewRGBA(image.Rect(0, 0, b.Width, b.Height))
	for i, n := range norm {
		var c color.RGBA
		if colorize {
			c = Turbo(float64(n))
		} else {
			g := uint8(n * 255)
			c = color.RGBA{R: g, G: g, B: g, A: 255}
		}
		img.SetRGBA(i%b.Width, i/b.Width, c)
	}
	return png.Encode(w, img)
}

// turboStops are the control points of a piecewise-linear Turbo colour map.
var turboStops = [5][3]float64{
	{0.18995, 0.07176, 0.23217},
	{0.35238, 0.34290, 0.93411},
	{0.56924, 0.77063, 0.46915},
	{0.94227, 0.89411, 0.10175},
	{0.98644, 0.46916, 0.07991},
}

// Turbo maps a value in [0, 1] to an approximation of the Turbo colour map.
func Turbo(v float64) color.RGBA {
	v = math.Max(0, math.Min(1, v))
	seg := int(v * 4)
	if seg > 3 {
		seg = 3
	}
	t := v*4 - float64(seg)
	a, b := turboStops[seg], turboStops[seg+1]
	ch := func(i int) uint8 {
		return uint8((a[i] + t*(b[i]-a[i])) * 255)
	}
	return color.RGBA{R: ch(0), G: ch(1), B: ch(2), A: 255}
}
