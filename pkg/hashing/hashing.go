// Package hashing computes the two digests the vault keys files by: a
// SHA-256 content hash used for identity, dedup and integrity checks, and a
// dHash perceptual fingerprint used for image similarity.
package hashing

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"math/bits"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// DefaultMatchThreshold is the Hamming distance at or below which two
// perceptual hashes are considered the same image.
const DefaultMatchThreshold = 5

// dHash compares adjacent cells in a gridWidth x gridHeight luminance grid,
// one comparison per bit.
const (
	gridWidth  = 9
	gridHeight = 8
)

var ErrInvalidFingerprint = errors.New("hashing: fingerprint must be 16 hex characters")

// Hasher adapts the package functions to the interface the vault consumes.
type Hasher struct{}

func (Hasher) HashContent(data []byte) string    { return HashContent(data) }
func (Hasher) HashPerceptual(data []byte) string { return HashPerceptual(data) }

// HashContent returns the hex-encoded SHA-256 digest of data.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashPerceptual returns a 64-bit dHash fingerprint (16 hex characters) for
// decodable raster images, or "" for anything else. The fingerprint encodes
// the relative-brightness pattern between horizontally adjacent cells of an
// area-averaged luminance grid, so re-compressed or resized copies of the
// same image land within a small Hamming distance of each other.
func HashPerceptual(data []byte) string {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return ""
	}

	grid := luminanceGrid(img)

	var fp uint64
	for y := 0; y < gridHeight; y++ {
		for x := 0; x < gridWidth-1; x++ {
			fp <<= 1
			if grid[y][x] < grid[y][x+1] {
				fp |= 1
			}
		}
	}
	return fmt.Sprintf("%016x", fp)
}

// Distance returns the Hamming distance between two fingerprints produced by
// HashPerceptual.
func Distance(a, b string) (int, error) {
	x, err := parseFingerprint(a)
	if err != nil {
		return 0, err
	}
	y, err := parseFingerprint(b)
	if err != nil {
		return 0, err
	}
	return bits.OnesCount64(x ^ y), nil
}

// IsMatch reports whether two fingerprints are within threshold bits of each
// other. A threshold <= 0 falls back to DefaultMatchThreshold.
func IsMatch(a, b string, threshold int) (bool, error) {
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	d, err := Distance(a, b)
	if err != nil {
		return false, err
	}
	return d <= threshold, nil
}

func parseFingerprint(s string) (uint64, error) {
	if len(s) != 16 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFingerprint, s)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFingerprint, s)
	}
	var v uint64
	for _, b := range raw {
		v = v<<8 | uint64(b)
	}
	return v, nil
}

// luminanceGrid downsamples img to gridHeight rows of gridWidth cells, each
// cell the mean luminance of the source pixels it covers. Area averaging
// keeps the grid stable across resolutions of the same image.
func luminanceGrid(img image.Image) [gridHeight][gridWidth]float64 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	var grid [gridHeight][gridWidth]float64
	for gy := 0; gy < gridHeight; gy++ {
		y0 := bounds.Min.Y + gy*h/gridHeight
		y1 := bounds.Min.Y + (gy+1)*h/gridHeight
		if y1 <= y0 {
			y1 = y0 + 1
		}
		for gx := 0; gx < gridWidth; gx++ {
			x0 := bounds.Min.X + gx*w/gridWidth
			x1 := bounds.Min.X + (gx+1)*w/gridWidth
			if x1 <= x0 {
				x1 = x0 + 1
			}

			var sum float64
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					r, g, b, _ := img.At(x, y).RGBA()
					// Rec. 601 luma, 16-bit channels.
					sum += 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
				}
			}
			grid[gy][gx] = sum / float64((y1-y0)*(x1-x0))
		}
	}
	return grid
}
