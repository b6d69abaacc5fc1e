// Package adapter holds the single inference session behind the method channel and
// translates initialize, predict, dispose and capability calls into engine operations.
package adapter

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/amikos-tech/onnx-channel/engine"
)

const (
	// DefaultInputName is the tensor name bound when a predict call names none.
	DefaultInputName = "float_input"

	// InitializedMessage confirms a successful initialize.
	InitializedMessage = "Model initialized successfully."

	// probabilityOutput is the output index holding class probabilities; index 0 is the label.
	probabilityOutput = 1
)

// Operation names reported to observers and used in error values.
const (
	OpInitialize      = "initialize"
	OpPredict         = "predict"
	OpDispose         = "dispose"
	OpCheckCapability = "checkOrt"
)

// State is the adapter lifecycle state.
type State int

const (
	// StateUninitialized means no session is live: before initialize, after dispose.
	StateUninitialized State = iota
	// StateReady means a model is loaded and predict may run.
	StateReady
)

func (s State) String() string {
	if s == StateReady {
		return "ready"
	}
	return "uninitialized"
}

// Capability is the static availability report returned by CheckCapability.
type Capability struct {
	Available bool   `json:"available"`
	Version   string `json:"version"`
}

// PredictRequest carries one predict call. Inputs is row-major; the product of
// Shape must equal len(Inputs).
type PredictRequest struct {
	Inputs    []float32
	Shape     []int64
	InputName string
}

// Observer receives one notification per completed operation. err is nil on success.
type Observer interface {
	ObserveCall(op string, err error, elapsed time.Duration)
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the adapter logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithObserver registers an observer for operation outcomes.
func WithObserver(observer Observer) Option {
	return func(a *Adapter) {
		a.observer = observer
	}
}

// Adapter owns at most one environment and one session. All methods are safe for
// concurrent use; calls are serialized.
type Adapter struct {
	mu        sync.Mutex
	open      engine.Opener
	runtime   engine.Runtime
	session   engine.Session
	modelPath string

	logger   *zap.Logger
	observer Observer
}

// New returns an uninitialized Adapter. open is called on the first initialize
// and again after every dispose.
func New(open engine.Opener, opts ...Option) *Adapter {
	a := &Adapter{
		open:   open,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Initialize loads the model at modelPath and makes it the live session.
// A previously live session is released only after the new one loads.
func (a *Adapter) Initialize(modelPath string) (_ string, err error) {
	defer a.observe(OpInitialize, time.Now(), &err)

	if modelPath == "" {
		return "", NewError(CodeModelPathMissing, OpInitialize, nil)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.logger.Info("initializing model", zap.String("model", modelPath))

	if a.runtime == nil {
		if a.open == nil {
			return "", NewError(CodeModelInitFailed, OpInitialize, fmt.Errorf("no inference engine configured"))
		}
		rt, openErr := a.open()
		if openErr != nil {
			a.logger.Error("model init failed", zap.String("model", modelPath), zap.Error(openErr))
			return "", NewError(CodeModelInitFailed, OpInitialize, openErr)
		}
		a.runtime = rt
	}

	session, loadErr := a.runtime.NewSession(modelPath)
	if loadErr != nil {
		a.logger.Error("model init failed", zap.String("model", modelPath), zap.Error(loadErr))
		return "", NewError(CodeModelInitFailed, OpInitialize, loadErr)
	}

	if a.session != nil {
		if closeErr := a.session.Close(); closeErr != nil {
			a.logger.Warn("failed to release previous session", zap.String("model", a.modelPath), zap.Error(closeErr))
		}
	}
	a.session = session
	a.modelPath = modelPath

	info := session.Info()
	a.logger.Info("model loaded",
		zap.String("model", modelPath),
		zap.Strings("inputs", info.InputNames()),
		zap.Strings("outputs", info.OutputNames()),
	)

	return InitializedMessage, nil
}

// RequestDecoder produces a PredictRequest from raw call arguments.
type RequestDecoder func() (PredictRequest, error)

// Predict runs the live session and returns the decoded probability output.
// An output of unexpected kind yields an empty slice, not an error.
func (a *Adapter) Predict(req PredictRequest) ([]float64, error) {
	return a.PredictWith(func() (PredictRequest, error) { return req, nil })
}

// PredictWith is Predict for callers holding undecoded arguments. decode runs only
// once a session is live, so an uninitialized adapter reports MODEL_NOT_INITIALIZED
// whatever the arguments; a decode error is reported as INVALID_INPUT.
func (a *Adapter) PredictWith(decode RequestDecoder) (_ []float64, err error) {
	defer a.observe(OpPredict, time.Now(), &err)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session == nil {
		return nil, NewError(CodeModelNotInitialized, OpPredict, nil)
	}
	if decode == nil {
		return nil, NewError(CodeInvalidInput, OpPredict, nil)
	}
	req, decodeErr := decode()
	if decodeErr != nil {
		return nil, InvalidInputf(OpPredict, "%v", decodeErr)
	}
	if len(req.Inputs) == 0 || len(req.Shape) == 0 {
		return nil, NewError(CodeInvalidInput, OpPredict, nil)
	}

	in := engine.Input{Name: req.InputName, Data: req.Inputs, Shape: req.Shape}
	if in.Name == "" {
		in.Name = DefaultInputName
	}
	if checkErr := engine.CheckInput(in); checkErr != nil {
		return nil, NewError(CodeInferenceFailed, OpPredict, checkErr)
	}

	a.logger.Debug("running inference",
		zap.String("input", in.Name),
		zap.Int64s("shape", in.Shape),
		zap.Int("elements", len(in.Data)),
	)

	outputs, runErr := a.session.Run(in)
	if runErr != nil {
		a.logger.Warn("inference failed", zap.Error(runErr))
		return nil, NewError(CodeInferenceFailed, OpPredict, runErr)
	}
	defer func() {
		if destroyErr := outputs.Destroy(); destroyErr != nil {
			a.logger.Warn("failed to release outputs", zap.Error(destroyErr))
		}
	}()

	if outputs.Len() <= probabilityOutput {
		return nil, NewError(CodeInferenceFailed, OpPredict,
			fmt.Errorf("model produced %d outputs, expected a probability output at index %d", outputs.Len(), probabilityOutput))
	}

	value, valueErr := outputs.Value(probabilityOutput)
	if valueErr != nil {
		return nil, NewError(CodeInferenceFailed, OpPredict, valueErr)
	}

	probabilities := value.Flatten()
	if value.Kind == engine.OutputUnknown {
		a.logger.Warn("unknown output type",
			zap.String("output", outputs.Name(probabilityOutput)),
			zap.String("type", value.Description),
		)
		return probabilities, nil
	}

	a.logger.Debug("extracted probabilities",
		zap.String("output", outputs.Name(probabilityOutput)),
		zap.Stringer("kind", value.Kind),
		zap.Float64s("probabilities", probabilities),
	)
	return probabilities, nil
}

// Dispose releases the session and then the environment. It always reports true;
// release errors are logged. Calling it repeatedly is safe.
func (a *Adapter) Dispose() bool {
	var err error
	defer a.observe(OpDispose, time.Now(), &err)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session != nil {
		if closeErr := a.session.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("release session: %w", closeErr))
		}
		a.session = nil
	}
	if a.runtime != nil {
		if closeErr := a.runtime.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("release environment: %w", closeErr))
		}
		a.runtime = nil
	}
	a.modelPath = ""

	if err != nil {
		a.logger.Error("error disposing onnx resources", zap.Error(err))
		return true
	}
	a.logger.Info("onnx resources cleaned up")
	return true
}

// CheckCapability reports static availability. It does not inspect adapter state.
func (a *Adapter) CheckCapability() Capability {
	defer a.observe(OpCheckCapability, time.Now(), nil)
	return Capability{Available: true, Version: "unknown"}
}

// State reports whether a session is live.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session != nil {
		return StateReady
	}
	return StateUninitialized
}

// ModelPath returns the path of the live model, or "" when uninitialized.
func (a *Adapter) ModelPath() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.modelPath
}

// ModelInfo returns the live model's declared inputs and outputs.
func (a *Adapter) ModelInfo() (engine.ModelInfo, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return engine.ModelInfo{}, false
	}
	return a.session.Info(), true
}

func (a *Adapter) observe(op string, start time.Time, errp *error) {
	if a.observer == nil {
		return
	}
	var err error
	if errp != nil {
		err = *errp
	}
	a.observer.ObserveCall(op, err, time.Since(start))
}
