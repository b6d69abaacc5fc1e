// Package engine abstracts the native inference runtime behind small interfaces
// so the adapter can be driven by ONNX Runtime in production and by fakes in tests.
package engine

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/amikos-tech/onnx-channel/ortlib"
)

// ErrUnavailable is returned by Open when the binary was built without the native backend.
var ErrUnavailable = errors.New("ONNX Runtime backend is not available in this build (requires cgo)")

// Input is a single named float32 tensor fed to a session.
type Input struct {
	Name  string
	Data  []float32
	Shape []int64
}

// CheckInput verifies the shape is well formed and its element count matches len(Data).
func CheckInput(in Input) error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("input name is empty")
	}
	count, err := ortlib.ShapeElementCount(ortlib.Shape(in.Shape))
	if err != nil {
		return fmt.Errorf("invalid input shape %v: %w", in.Shape, err)
	}
	if count != len(in.Data) {
		return fmt.Errorf("input shape %v requires %d elements, got %d", in.Shape, count, len(in.Data))
	}
	return nil
}

// OutputKind classifies a decoded output value.
type OutputKind int

const (
	OutputUnknown OutputKind = iota
	OutputMap
	OutputMapSequence
)

func (k OutputKind) String() string {
	switch k {
	case OutputMap:
		return "map"
	case OutputMapSequence:
		return "sequence<map>"
	default:
		return "unknown"
	}
}

// OutputValue is an output decoded once after execution.
//
// For OutputMap, Maps holds exactly one entry. For OutputMapSequence it holds one
// entry per map in sequence order. Description names what was found for OutputUnknown.
type OutputValue struct {
	Kind        OutputKind
	Maps        [][]float64
	Description string
}

// Flatten concatenates the float values of every map in order.
// It returns an empty, non-nil slice for unknown values.
func (v OutputValue) Flatten() []float64 {
	total := 0
	for _, m := range v.Maps {
		total += len(m)
	}
	out := make([]float64, 0, total)
	if v.Kind == OutputUnknown {
		return out
	}
	for _, m := range v.Maps {
		out = append(out, m...)
	}
	return out
}

// Outputs is the ordered result of one execution. Destroy releases every entry.
type Outputs interface {
	Len() int
	Name(i int) string
	Value(i int) (OutputValue, error)
	Destroy() error
}

// TensorInfo describes one model input or output.
type TensorInfo struct {
	Name        string  `json:"name"`
	Kind        string  `json:"kind"`
	ElementType string  `json:"elementType"`
	Shape       []int64 `json:"shape"`
}

// ModelInfo lists the inputs and outputs declared by a loaded model.
type ModelInfo struct {
	Path    string       `json:"path"`
	Inputs  []TensorInfo `json:"inputs"`
	Outputs []TensorInfo `json:"outputs"`
}

// InputNames returns the declared input names in model order.
func (m ModelInfo) InputNames() []string {
	return tensorNames(m.Inputs)
}

// OutputNames returns the declared output names in model order.
func (m ModelInfo) OutputNames() []string {
	return tensorNames(m.Outputs)
}

func tensorNames(infos []TensorInfo) []string {
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}

// Session is one loaded model graph.
type Session interface {
	Info() ModelInfo
	Run(in Input) (Outputs, error)
	Close() error
}

// Runtime is the process-scoped execution environment sessions are created from.
type Runtime interface {
	NewSession(modelPath string) (Session, error)
	Close() error
}

// Opener acquires a Runtime. It is called lazily on the first model load.
type Opener func() (Runtime, error)

// Option configures the native backend.
type Option func(*config) error

type config struct {
	libraryOpts    []ortlib.LibraryOption
	intraOpThreads int
	interOpThreads int
	logger         *zap.Logger
}

// WithLibraryPath uses the ONNX Runtime shared library at path.
func WithLibraryPath(path string) Option {
	return func(c *config) error {
		if strings.TrimSpace(path) == "" {
			return nil
		}
		c.libraryOpts = append(c.libraryOpts, ortlib.WithLibraryPath(path))
		return nil
	}
}

// WithCacheDir searches dir for unpacked ONNX Runtime releases.
func WithCacheDir(dir string) Option {
	return func(c *config) error {
		if strings.TrimSpace(dir) == "" {
			return nil
		}
		c.libraryOpts = append(c.libraryOpts, ortlib.WithCacheDir(dir))
		return nil
	}
}

// WithVersion selects the cached ONNX Runtime release.
func WithVersion(version string) Option {
	return func(c *config) error {
		if strings.TrimSpace(version) == "" {
			return nil
		}
		c.libraryOpts = append(c.libraryOpts, ortlib.WithVersion(version))
		return nil
	}
}

// WithoutPlatformDefaults disables the fallback to system install paths when skip is true.
func WithoutPlatformDefaults(skip bool) Option {
	return func(c *config) error {
		if skip {
			c.libraryOpts = append(c.libraryOpts, ortlib.WithoutPlatformDefaults())
		}
		return nil
	}
}

// WithThreads sets intra-op and inter-op thread counts. Zero leaves the runtime default.
func WithThreads(intraOp, interOp int) Option {
	return func(c *config) error {
		if intraOp < 0 || interOp < 0 {
			return fmt.Errorf("thread counts must be >= 0, got intra=%d inter=%d", intraOp, interOp)
		}
		c.intraOpThreads = intraOp
		c.interOpThreads = interOp
		return nil
	}
}

// WithLogger sets the logger used by the backend.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

func newConfig(opts ...Option) (*config, error) {
	c := &config{logger: zap.NewNop()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// NewOpener returns an Opener that calls Open with opts.
func NewOpener(opts ...Option) Opener {
	return func() (Runtime, error) {
		return Open(opts...)
	}
}
