//go:build cgo

package engine

import (
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/amikos-tech/onnx-channel/internal/ortutil"
	"github.com/amikos-tech/onnx-channel/ortlib"
)

// ONNX Runtime keeps one global environment per process. Runtimes share it by reference count.
var (
	envMu   sync.Mutex
	envRefs int
	envPath string
)

func acquireEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs > 0 {
		if envPath != libPath {
			return fmt.Errorf("cannot change library path after environment is initialized: have %q, want %q", envPath, libPath)
		}
		envRefs++
		return nil
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime environment from %q: %w", libPath, err)
	}
	envRefs = 1
	envPath = libPath
	return nil
}

func releaseEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs == 0 {
		return nil
	}
	envRefs--
	if envRefs > 0 {
		return nil
	}
	envPath = ""
	if err := ort.DestroyEnvironment(); err != nil {
		return fmt.Errorf("failed to destroy ONNX Runtime environment: %w", err)
	}
	return nil
}

type ortRuntime struct {
	mu      sync.Mutex
	cfg     *config
	libPath string
	closed  bool
}

// Open resolves the ONNX Runtime shared library and acquires the process environment.
func Open(opts ...Option) (Runtime, error) {
	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	libPath, err := ortlib.ResolveLibrary(cfg.libraryOpts...)
	if err != nil {
		return nil, err
	}
	if err := acquireEnvironment(libPath); err != nil {
		return nil, err
	}

	cfg.logger.Debug("onnx runtime environment acquired", zap.String("library", libPath))
	return &ortRuntime{cfg: cfg, libPath: libPath}, nil
}

func (r *ortRuntime) NewSession(modelPath string) (Session, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("runtime is closed")
	}

	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("failed to open model %q: %w", modelPath, err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model metadata from %q: %w", modelPath, err)
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("model %q declares no inputs", modelPath)
	}

	info := ModelInfo{
		Path:    modelPath,
		Inputs:  convertInfos(inputs),
		Outputs: convertInfos(outputs),
	}

	options, err := r.sessionOptions()
	if err != nil {
		return nil, err
	}

	s := &ortSession{
		info:     info,
		options:  options,
		sessions: make(map[string]*ort.DynamicAdvancedSession),
		logger:   r.cfg.logger,
	}

	// Bind the first declared input now so load errors surface at initialize time.
	if _, err := s.sessionFor(info.Inputs[0].Name); err != nil {
		return nil, errors.Join(err, s.Close())
	}

	return s, nil
}

func (r *ortRuntime) sessionOptions() (*ort.SessionOptions, error) {
	if r.cfg.intraOpThreads == 0 && r.cfg.interOpThreads == 0 {
		return nil, nil
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	if r.cfg.intraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(r.cfg.intraOpThreads); err != nil {
			return nil, errors.Join(fmt.Errorf("failed to set intra-op threads: %w", err), options.Destroy())
		}
	}
	if r.cfg.interOpThreads > 0 {
		if err := options.SetInterOpNumThreads(r.cfg.interOpThreads); err != nil {
			return nil, errors.Join(fmt.Errorf("failed to set inter-op threads: %w", err), options.Destroy())
		}
	}
	return options, nil
}

func (r *ortRuntime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return releaseEnvironment()
}

type ortSession struct {
	mu       sync.Mutex
	info     ModelInfo
	options  *ort.SessionOptions
	sessions map[string]*ort.DynamicAdvancedSession
	logger   *zap.Logger
	closed   bool
}

func (s *ortSession) Info() ModelInfo {
	return s.info
}

// sessionFor returns the native session bound to inputName, creating it on first use.
// Callers must hold s.mu or be the constructor.
func (s *ortSession) sessionFor(inputName string) (*ort.DynamicAdvancedSession, error) {
	if session, ok := s.sessions[inputName]; ok {
		return session, nil
	}

	session, err := ort.NewDynamicAdvancedSession(
		s.info.Path,
		[]string{inputName},
		s.info.OutputNames(),
		s.options,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %q bound to input %q: %w", s.info.Path, inputName, err)
	}
	s.sessions[inputName] = session
	s.logger.Debug("onnx session created", zap.String("model", s.info.Path), zap.String("input", inputName))
	return session, nil
}

func (s *ortSession) Run(in Input) (Outputs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("session is closed")
	}

	session, err := s.sessionFor(in.Name)
	if err != nil {
		return nil, err
	}

	tensor, err := ort.NewTensor(ort.NewShape(in.Shape...), in.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() {
		if destroyErr := tensor.Destroy(); destroyErr != nil {
			s.logger.Warn("failed to destroy input tensor", zap.Error(destroyErr))
		}
	}()

	// nil outputs are allocated by ONNX Runtime, which is required for map and sequence outputs.
	values := make([]ort.Value, len(s.info.Outputs))
	if err := session.Run([]ort.Value{tensor}, values); err != nil {
		return nil, errors.Join(fmt.Errorf("inference failed: %w", err), ortutil.DestroySlice(values))
	}

	return &ortOutputs{names: s.info.OutputNames(), values: values}, nil
}

func (s *ortSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	for name, session := range s.sessions {
		if destroyErr := session.Destroy(); destroyErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to destroy session bound to %q: %w", name, destroyErr))
		}
	}
	s.sessions = nil
	if s.options != nil {
		err = errors.Join(err, s.options.Destroy())
		s.options = nil
	}
	return err
}

type ortOutputs struct {
	names     []string
	values    []ort.Value
	destroyed bool
}

func (o *ortOutputs) Len() int {
	return len(o.values)
}

func (o *ortOutputs) Name(i int) string {
	if i < 0 || i >= len(o.names) {
		return ""
	}
	return o.names[i]
}

func (o *ortOutputs) Value(i int) (OutputValue, error) {
	if o.destroyed {
		return OutputValue{}, fmt.Errorf("outputs already destroyed")
	}
	if i < 0 || i >= len(o.values) {
		return OutputValue{}, fmt.Errorf("output index %d out of range [0,%d)", i, len(o.values))
	}
	return decodeValue(o.values[i])
}

// Destroy releases the top-level values. Map and sequence values own their contents.
func (o *ortOutputs) Destroy() error {
	if o.destroyed {
		return nil
	}
	o.destroyed = true
	return ortutil.DestroySlice(o.values)
}

func decodeValue(value ort.Value) (OutputValue, error) {
	switch v := value.(type) {
	case *ort.Map:
		return decodeNative(ortMap{v})
	case *ort.Sequence:
		return decodeNative(ortSequence{v})
	default:
		return decodeNative(value)
	}
}

type ortMap struct {
	m *ort.Map
}

// FloatValues returns the map's values in runtime order.
func (m ortMap) FloatValues() ([]float64, error) {
	_, values, err := m.m.GetKeysAndValues()
	if err != nil {
		return nil, fmt.Errorf("failed to read map output: %w", err)
	}

	var data any
	switch t := values.(type) {
	case *ort.Tensor[float32]:
		data = t.GetData()
	case *ort.Tensor[float64]:
		data = t.GetData()
	}
	return widenFloats(data), nil
}

type ortSequence struct {
	s *ort.Sequence
}

func (s ortSequence) Elements() ([]any, error) {
	items, err := s.s.GetValues()
	if err != nil {
		return nil, err
	}
	out := make([]any, len(items))
	for i, item := range items {
		if m, ok := item.(*ort.Map); ok {
			out[i] = ortMap{m}
			continue
		}
		out[i] = item
	}
	return out, nil
}

func convertInfos(infos []ort.InputOutputInfo) []TensorInfo {
	out := make([]TensorInfo, len(infos))
	for i, info := range infos {
		out[i] = TensorInfo{
			Name:        info.Name,
			Kind:        fmt.Sprint(info.OrtValueType),
			ElementType: fmt.Sprint(info.DataType),
			Shape:       append([]int64(nil), info.Dimensions...),
		}
	}
	return out
}
