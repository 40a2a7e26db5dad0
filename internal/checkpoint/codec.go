package checkpoint

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// HeaderSize is the byte length of the generation and population size fields.
const HeaderSize = 8

// ErrMalformed reports checkpoint content that cannot be trusted.
var ErrMalformed = errors.New("malformed checkpoint")

var byteOrder = binary.LittleEndian

// GenomeData is the persisted form of one genome.
type GenomeData struct {
	Weights     []float64
	Connections []bool
}

// Record is a full population snapshot.
type Record struct {
	Generation int
	Genomes    []GenomeData
}

// NumWeights returns the shared genome length, or 0 for an empty record.
func (r Record) NumWeights() int {
	if len(r.Genomes) == 0 {
		return 0
	}
	return len(r.Genomes[0].Weights)
}

// EncodedSize is the exact byte length of a record with p genomes of w weights.
func EncodedSize(p, w int) int64 {
	return HeaderSize + int64(p)*int64(w)*9
}

func (r Record) validate() error {
	if r.Generation < 1 || r.Generation > math.MaxInt32 {
		return fmt.Errorf("generation out of range: %d", r.Generation)
	}
	if len(r.Genomes) > math.MaxInt32 {
		return fmt.Errorf("population size out of range: %d", len(r.Genomes))
	}
	w := r.NumWeights()
	for i, g := range r.Genomes {
		if len(g.Weights) != w {
			return fmt.Errorf("genome %d: weights length %d, want %d", i, len(g.Weights), w)
		}
		if len(g.Connections) != w {
			return fmt.Errorf("genome %d: connections length %d, want %d", i, len(g.Connections), w)
		}
	}
	return nil
}

// Encode writes the record in the checkpoint wire format.
func Encode(w io.Writer, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)

	var header [HeaderSize]byte
	byteOrder.PutUint32(header[0:4], uint32(int32(rec.Generation)))
	byteOrder.PutUint32(header[4:8], uint32(int32(len(rec.Genomes))))
	if _, err := bw.Write(header[:]); err != nil {
		return err
	}

	numWeights := rec.NumWeights()
	weights := make([]byte, numWeights*8)
	mask := make([]byte, numWeights)
	for _, g := range rec.Genomes {
		for i, v := range g.Weights {
			byteOrder.PutUint64(weights[i*8:], math.Float64bits(v))
		}
		for i, c := range g.Connections {
			mask[i] = 0
			if c {
				mask[i] = 1
			}
		}
		if _, err := bw.Write(weights); err != nil {
			return err
		}
		if _, err := bw.Write(mask); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Marshal encodes the record into a byte slice.
func Marshal(rec Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(int(EncodedSize(len(rec.Genomes), rec.NumWeights())))
	if err := Encode(&buf, rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Header holds the two leading checkpoint fields.
type Header struct {
	Generation     int
	PopulationSize int
}

func readHeader(r io.Reader) (Header, error) {
	var raw [HeaderSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return Header{}, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}
	h := Header{
		Generation:     int(int32(byteOrder.Uint32(raw[0:4]))),
		PopulationSize: int(int32(byteOrder.Uint32(raw[4:8]))),
	}
	if h.Generation < 1 {
		return Header{}, fmt.Errorf("%w: generation %d", ErrMalformed, h.Generation)
	}
	if h.PopulationSize < 0 {
		return Header{}, fmt.Errorf("%w: population size %d", ErrMalformed, h.PopulationSize)
	}
	return h, nil
}

// Decode reads a record and checks it against the expected population size and
// genome length. The stream must end exactly after the last genome.
func Decode(r io.Reader, populationSize, numWeights int) (Record, error) {
	if populationSize <= 0 || numWeights <= 0 {
		return Record{}, fmt.Errorf("invalid decode shape: population=%d weights=%d", populationSize, numWeights)
	}
	br := bufio.NewReader(r)
	h, err := readHeader(br)
	if err != nil {
		return Record{}, err
	}
	if h.PopulationSize != populationSize {
		return Record{}, fmt.Errorf("%w: population size %d, want %d", ErrMalformed, h.PopulationSize, populationSize)
	}

	rec := Record{Generation: h.Generation, Genomes: make([]GenomeData, populationSize)}
	weights := make([]byte, numWeights*8)
	mask := make([]byte, numWeights)
	for i := range rec.Genomes {
		if _, err := io.ReadFull(br, weights); err != nil {
			return Record{}, fmt.Errorf("%w: genome %d weights: %v", ErrMalformed, i, err)
		}
		if _, err := io.ReadFull(br, mask); err != nil {
			return Record{}, fmt.Errorf("%w: genome %d connections: %v", ErrMalformed, i, err)
		}
		g := GenomeData{
			Weights:     make([]float64, numWeights),
			Connections: make([]bool, numWeights),
		}
		for j := range g.Weights {
			g.Weights[j] = math.Float64frombits(byteOrder.Uint64(weights[j*8:]))
		}
		for j, b := range mask {
			g.Connections[j] = b != 0
		}
		rec.Genomes[i] = g
	}

	var extra [1]byte
	if n, _ := br.Read(extra[:]); n > 0 {
		return Record{}, fmt.Errorf("%w: trailing bytes after %d genomes", ErrMalformed, populationSize)
	}
	return rec, nil
}

// Unmarshal decodes a record from a byte slice.
func Unmarshal(data []byte, populationSize, numWeights int) (Record, error) {
	if want := EncodedSize(populationSize, numWeights); int64(len(data)) != want {
		return Record{}, fmt.Errorf("%w: payload is %d bytes, want %d", ErrMalformed, len(data), want)
	}
	return Decode(bytes.NewReader(data), populationSize, numWeights)
}
