// Package checkpoint persists the state of an interrupted SAEM run so that
// it can be resumed exactly.
//
// A checkpoint file is a fixed header followed by the JSON encoded State,
// compressed with the codec named in the header:
//
//	magic "SDCK" | version (1 byte) | codec (1 byte) | raw length (uvarint) | payload
package checkpoint

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/HamletTheHamster/social-discounting/internal/model"
)

const (
	magic   = "SDCK"
	version = 1
	// maxRawSize rejects headers that claim absurd payloads.
	maxRawSize = 1 << 30
)

// ErrCorrupt is returned for files that are not checkpoints of this version.
var ErrCorrupt = errors.New("checkpoint: corrupt or unsupported file")

// Snapshot holds the population parameters after one iteration.
type Snapshot struct {
	Iteration int              `json:"iteration"`
	Mu        [2]float64       `json:"mu"`
	Omega     [2][2]float64    `json:"omega"`
	Error     model.ErrorModel `json:"error"`
}

// State is everything a run needs to continue after Iteration completed
// iterations. The random streams are keyed by iteration and are not stored.
type State struct {
	// Run identity, checked on resume.
	Seed       uint64 `json:"seed"`
	K1         int    `json:"k1"`
	K2         int    `json:"k2"`
	Chains     int    `json:"chains"`
	Covariance string `json:"covariance"`
	Kernels    [3]int `json:"kernels"`
	Subjects   []int  `json:"subjects"`

	Iteration int              `json:"iteration"`
	Mu        [2]float64       `json:"mu"`
	Omega     [2][2]float64    `json:"omega"`
	Error     model.ErrorModel `json:"error"`

	// Stochastic approximation of the sufficient statistics.
	S1 [2]float64    `json:"s1"`
	S2 [2][2]float64 `json:"s2"`
	S3 float64       `json:"s3"`

	// Phi is the chain state, indexed by subject then chain.
	Phi             [][][2]float64 `json:"phi"`
	CoordinateScale [2]float64     `json:"coordinate_scale"`
	JointScale      [2]float64     `json:"joint_scale"`

	// Running sums of the chain states over the smoothing phase.
	CondSum   [][2]float64    `json:"cond_sum"`
	CondSq    [][2][2]float64 `json:"cond_sq"`
	CondCount int             `json:"cond_count"`

	Projections int        `json:"projections"`
	Trace       []Snapshot `json:"trace"`
}

// Encode serialises st with codec c.
func Encode(st *State, c Codec) ([]byte, error) {
	raw, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	payload, err := compress(c, raw)
	if errors.Is(err, errIncompressible) {
		c, payload, err = None, raw, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to compress checkpoint: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(magic) + 2 + binary.MaxVarintLen64 + len(payload))
	buf.WriteString(magic)
	buf.WriteByte(version)
	buf.WriteByte(byte(c))
	buf.Write(binary.AppendUvarint(nil, uint64(len(raw))))
	buf.Write(payload)
	return buf.Bytes(), nil
}

// Decode is the inverse of Encode.
func Decode(b []byte) (*State, error) {
	if len(b) < len(magic)+2 || string(b[:len(magic)]) != magic {
		return nil, ErrCorrupt
	}
	b = b[len(magic):]
	if b[0] != version {
		return nil, fmt.Errorf("%w: version %d", ErrCorrupt, b[0])
	}
	c := Codec(b[1])
	b = b[2:]
	size, n := binary.Uvarint(b)
	if n <= 0 || size > maxRawSize {
		return nil, fmt.Errorf("%w: bad length", ErrCorrupt)
	}

	raw, err := decompress(c, b[n:], int(size))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(raw) != int(size) {
		return nil, fmt.Errorf("%w: payload is %d bytes, header says %d", ErrCorrupt, len(raw), size)
	}
	st := &State{}
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return st, nil
}

// WriteFile atomically replaces path with the encoded st.
func WriteFile(path string, c Codec, st *State) error {
	b, err := Encode(st, c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// ReadFile loads a checkpoint written by WriteFile.
func ReadFile(path string) (*State, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	return Decode(b)
}
