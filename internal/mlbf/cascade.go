// Package mlbf implements the multi-level bloom filter cascade used to
// compactly answer "is this certificate fingerprint revoked?" with no false
// negatives and a bounded false-positive rate.
//
// A cascade is a sequence of bloom filter layers. Layer 1 holds the include
// set; layer 2 holds the excluded keys that layer 1 falsely reports; layer 3
// holds the included keys that layer 2 falsely reports, and so on until a
// layer produces no false positives. Membership is decided by the first
// layer that rejects a key.
package mlbf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/bits-and-blooms/bloom/v3"
)

// Binary format constants for the filter and metadata files.
const (
	filterMagic   = "MLBF"
	metaMagic     = "MLBM"
	formatVersion = 1

	// maxLayers bounds cascade depth. A well-formed build converges in a
	// handful of layers; hitting this means the layer shapes cannot
	// separate the two sets.
	maxLayers = 64
)

var (
	errBadMagic        = errors.New("invalid filter magic")
	errVersionMismatch = errors.New("filter format version mismatch")
	errTooManyLayers   = errors.New("too many cascade layers")
	errNotIncluded     = errors.New("included key missing from filter")
	errNotExcluded     = errors.New("excluded key present in filter")
)

// layerShape is the structural parameter pair of one bloom layer.
type layerShape struct {
	M uint64
	K uint64
}

// Cascade is a multi-level bloom filter.
//
// A Cascade is built either fresh via NewCascade or from a previous build's
// metadata via LoadMeta, then populated once with Initialize. A serialized
// cascade reloaded with LoadFilter is query-only.
type Cascade struct {
	// Version is the artifact version recorded in build statistics.
	Version uint16

	expected int
	rates    []float64
	shapes   []layerShape // from metadata; reused positionally
	layers   []*bloom.BloomFilter
}

// NewCascade returns an empty cascade whose first layer will be sized for
// expected elements at rates[0]. Deeper layers use the last rate in rates.
func NewCascade(expected int, rates []float64) *Cascade {
	return &Cascade{expected: expected, rates: rates}
}

// SetErrorRates replaces the false-positive-rate schedule. Only meaningful
// before Initialize; used to override rates loaded alongside metadata.
func (c *Cascade) SetErrorRates(rates []float64) {
	c.rates = rates
}

// ErrorRates returns the false-positive-rate schedule.
func (c *Cascade) ErrorRates() []float64 {
	return c.rates
}

// rate returns the target false-positive rate for the given 0-based level.
func (c *Cascade) rate(level int) float64 {
	if len(c.rates) == 0 {
		return 0.5
	}

	if level >= len(c.rates) {
		level = len(c.rates) - 1
	}

	r := c.rates[level]
	// Rates outside (0, 1) cannot size a filter; fall back to the deep-layer
	// default rather than underflowing the bit count.
	if r <= 0 || r >= 1 {
		r = 0.5
	}

	return r
}

// layerKey salts a key with its layer depth so false positives do not
// correlate across layers.
func layerKey(depth int, key string) []byte {
	b := make([]byte, 0, len(key)+1)
	b = append(b, byte(depth))

	return append(b, key...)
}

// Initialize populates the cascade so that every key in include tests
// positive and every key in exclude tests negative.
//
// With an empty include set the cascade stays empty (zero layers, zero
// bits); callers treat that as the degenerate no-revocations case.
func (c *Cascade) Initialize(include, exclude []string) error {
	c.layers = nil

	inc, exc := include, exclude

	for depth := 1; len(inc) > 0; depth++ {
		if depth > maxLayers {
			return fmt.Errorf("%w: depth %d", errTooManyLayers, depth)
		}

		layer := c.newLayer(depth, len(inc))

		for _, key := range inc {
			layer.Add(layerKey(depth, key))
		}

		c.layers = append(c.layers, layer)

		// Keys wrongly accepted by this layer form the next layer's
		// include set; this layer's include set becomes the next
		// exclude set.
		var fps []string

		for _, key := range exc {
			if layer.Test(layerKey(depth, key)) {
				fps = append(fps, key)
			}
		}

		inc, exc = fps, inc
	}

	return nil
}

// newLayer creates the bloom filter for a layer, reusing a recorded shape
// from previous-build metadata when one exists for this depth.
func (c *Cascade) newLayer(depth, includeCount int) *bloom.BloomFilter {
	if depth-1 < len(c.shapes) {
		shape := c.shapes[depth-1]

		return bloom.New(uint(shape.M), uint(shape.K))
	}

	n := includeCount
	if depth == 1 && c.expected > n {
		n = c.expected
	}

	return bloom.NewWithEstimates(uint(n), c.rate(depth-1))
}

// Has reports whether key is a member of the cascade's include set.
// No false negatives; false positives bounded by the error-rate schedule.
func (c *Cascade) Has(key string) bool {
	for i, layer := range c.layers {
		if !layer.Test(layerKey(i+1, key)) {
			// Rejection at an even layer (1-based) vouches for
			// membership; at an odd layer it vouches against.
			return i%2 == 1
		}
	}

	return len(c.layers)%2 == 1
}

// Check verifies that every include key tests positive and every exclude key
// tests negative. Any violation means the constructed artifact would
// misclassify a known input and must not be shipped.
func (c *Cascade) Check(include, exclude []string) error {
	for _, key := range include {
		if !c.Has(key) {
			return fmt.Errorf("%w: %q", errNotIncluded, key)
		}
	}

	for _, key := range exclude {
		if c.Has(key) {
			return fmt.Errorf("%w: %q", errNotExcluded, key)
		}
	}

	return nil
}

// LayerCount returns the number of layers in the cascade.
func (c *Cascade) LayerCount() int {
	return len(c.layers)
}

// BitCount returns the total number of filter bits across all layers.
func (c *Cascade) BitCount() int {
	bits := 0
	for _, layer := range c.layers {
		bits += int(layer.Cap())
	}

	return bits
}

// WriteTo serializes the full cascade: header, then each layer's bloom
// filter in its self-describing binary form.
func (c *Cascade) WriteTo(w io.Writer) (int64, error) {
	n, err := writeHeader(w, filterMagic, len(c.layers))
	if err != nil {
		return n, err
	}

	for i, layer := range c.layers {
		written, err := layer.WriteTo(w)
		n += written

		if err != nil {
			return n, fmt.Errorf("writing layer %d: %w", i+1, err)
		}
	}

	return n, nil
}

// WriteMetaTo serializes only the structural parameters of each layer.
// A later build reloads them with LoadMeta to produce a structurally
// comparable filter, the precondition for efficient binary diffing.
func (c *Cascade) WriteMetaTo(w io.Writer) (int64, error) {
	n, err := writeHeader(w, metaMagic, len(c.layers))
	if err != nil {
		return n, err
	}

	for i, layer := range c.layers {
		shape := layerShape{M: uint64(layer.Cap()), K: uint64(layer.K())}

		err := binary.Write(w, binary.LittleEndian, shape)
		if err != nil {
			return n, fmt.Errorf("writing layer %d shape: %w", i+1, err)
		}

		n += 16
	}

	return n, nil
}

// LoadFilter deserializes a cascade written by WriteTo. The result is
// query-only: Has and Check work, Initialize is not intended.
func LoadFilter(r io.Reader) (*Cascade, error) {
	count, err := readHeader(r, filterMagic)
	if err != nil {
		return nil, err
	}

	c := &Cascade{Version: formatVersion}

	for i := 0; i < count; i++ {
		var layer bloom.BloomFilter

		_, err := layer.ReadFrom(r)
		if err != nil {
			return nil, fmt.Errorf("reading layer %d: %w", i+1, err)
		}

		c.layers = append(c.layers, &layer)
	}

	return c, nil
}

// LoadMeta deserializes structural parameters written by WriteMetaTo and
// returns an empty cascade that will reuse them layer by layer during
// Initialize. Callers override the error-rate schedule with SetErrorRates
// before initializing.
func LoadMeta(r io.Reader) (*Cascade, error) {
	count, err := readHeader(r, metaMagic)
	if err != nil {
		return nil, err
	}

	c := &Cascade{}

	for i := 0; i < count; i++ {
		var shape layerShape

		err := binary.Read(r, binary.LittleEndian, &shape)
		if err != nil {
			return nil, fmt.Errorf("reading layer %d shape: %w", i+1, err)
		}

		c.shapes = append(c.shapes, shape)
	}

	return c, nil
}

func writeHeader(w io.Writer, magic string, layers int) (int64, error) {
	if layers > maxLayers {
		return 0, errTooManyLayers
	}

	_, err := io.WriteString(w, magic)
	if err != nil {
		return 0, fmt.Errorf("writing magic: %w", err)
	}

	header := struct {
		Version uint16
		Layers  uint16
	}{Version: formatVersion, Layers: uint16(layers)}

	err = binary.Write(w, binary.LittleEndian, header)
	if err != nil {
		return 4, fmt.Errorf("writing header: %w", err)
	}

	return 8, nil
}

func readHeader(r io.Reader, magic string) (int, error) {
	buf := make([]byte, 4)

	_, err := io.ReadFull(r, buf)
	if err != nil {
		return 0, fmt.Errorf("reading magic: %w", err)
	}

	if string(buf) != magic {
		return 0, errBadMagic
	}

	var header struct {
		Version uint16
		Layers  uint16
	}

	err = binary.Read(r, binary.LittleEndian, &header)
	if err != nil {
		return 0, fmt.Errorf("reading header: %w", err)
	}

	if header.Version != formatVersion {
		return 0, fmt.Errorf("%w: got %d, want %d", errVersionMismatch, header.Version, formatVersion)
	}

	if int(header.Layers) > maxLayers {
		return 0, fmt.Errorf("%w: %d", errTooManyLayers, header.Layers)
	}

	return int(header.Layers), nil
}
