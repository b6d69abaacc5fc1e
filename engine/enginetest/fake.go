// Package enginetest provides an in-memory engine for tests of code built on top of engine.
package enginetest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/amikos-tech/onnx-channel/engine"
)

// Model is what a fake session returns for a model path.
type Model struct {
	Info engine.ModelInfo
	// Outputs is returned by every Run. Nil values are replaced by an unknown output.
	Outputs []engine.OutputValue
	// RunErr, when set, fails every Run.
	RunErr error
	// CloseErr, when set, is returned by Session.Close.
	CloseErr error
}

// Runtime is a fake engine.Runtime. Models maps a model path to its behaviour; a path
// missing from Models fails to load. It records every event in order.
type Runtime struct {
	mu       sync.Mutex
	Models   map[string]Model
	CloseErr error

	events   []string
	inputs   []engine.Input
	live     map[*Session]struct{}
	closed   bool
	opens    int
	openErr  error
	released int
}

// NewRuntime returns a fake runtime serving models.
func NewRuntime(models map[string]Model) *Runtime {
	if models == nil {
		models = make(map[string]Model)
	}
	return &Runtime{Models: models, live: make(map[*Session]struct{})}
}

// FailOpen makes the Opener fail with err.
func (r *Runtime) FailOpen(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openErr = err
}

// Opener returns an engine.Opener that hands out r, reopening it after Close.
func (r *Runtime) Opener() engine.Opener {
	return func() (engine.Runtime, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.openErr != nil {
			return nil, r.openErr
		}
		r.opens++
		r.closed = false
		r.events = append(r.events, "open")
		return r, nil
	}
}

func (r *Runtime) NewSession(modelPath string) (engine.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.New("runtime is closed")
	}
	model, ok := r.Models[modelPath]
	if !ok {
		r.events = append(r.events, "load-failed:"+modelPath)
		return nil, fmt.Errorf("Load model from %s failed: No such file or directory", modelPath)
	}
	if model.Info.Path == "" {
		model.Info.Path = modelPath
	}
	s := &Session{runtime: r, model: model}
	r.live[s] = struct{}{}
	r.events = append(r.events, "load:"+modelPath)
	return s, nil
}

func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.events = append(r.events, "close-runtime")
	return r.CloseErr
}

// Events returns the ordered lifecycle log: open, load:<path>, load-failed:<path>,
// run:<path>, release:<path>, close-runtime.
func (r *Runtime) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// Inputs returns every input passed to Run.
func (r *Runtime) Inputs() []engine.Input {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]engine.Input(nil), r.inputs...)
}

// LiveSessions counts sessions not yet closed.
func (r *Runtime) LiveSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Opens counts successful Opener calls.
func (r *Runtime) Opens() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opens
}

// ReleasedOutputs counts Outputs.Destroy calls.
func (r *Runtime) ReleasedOutputs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

// Session is a fake engine.Session.
type Session struct {
	runtime *Runtime
	model   Model
	closed  bool
}

func (s *Session) Info() engine.ModelInfo {
	return s.model.Info
}

func (s *Session) Run(in engine.Input) (engine.Outputs, error) {
	r := s.runtime
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.closed {
		return nil, errors.New("session is closed")
	}
	r.inputs = append(r.inputs, in)
	r.events = append(r.events, "run:"+s.model.Info.Path)
	if s.model.RunErr != nil {
		return nil, s.model.RunErr
	}
	return &Outputs{runtime: r, names: s.model.Info.OutputNames(), values: s.model.Outputs}, nil
}

func (s *Session) Close() error {
	r := s.runtime
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	delete(r.live, s)
	r.events = append(r.events, "release:"+s.model.Info.Path)
	return s.model.CloseErr
}

// Outputs is a fake engine.Outputs.
type Outputs struct {
	runtime   *Runtime
	names     []string
	values    []engine.OutputValue
	destroyed bool
}

func (o *Outputs) Len() int {
	return len(o.values)
}

func (o *Outputs) Name(i int) string {
	if i < 0 || i >= len(o.names) {
		return ""
	}
	return o.names[i]
}

func (o *Outputs) Value(i int) (engine.OutputValue, error) {
	if i < 0 || i >= len(o.values) {
		return engine.OutputValue{}, fmt.Errorf("output index %d out of range", i)
	}
	return o.values[i], nil
}

func (o *Outputs) Destroy() error {
	if o.destroyed {
		return nil
	}
	o.destroyed = true
	o.runtime.mu.Lock()
	o.runtime.released++
	o.runtime.mu.Unlock()
	return nil
}

// Classifier returns a model shaped like a scikit-learn classifier export: a label
// tensor at index 0 and probabilities at index 1.
func Classifier(probabilities engine.OutputValue) Model {
	return Model{
		Info: engine.ModelInfo{
			Inputs:  []engine.TensorInfo{{Name: "float_input", Kind: "tensor", ElementType: "float", Shape: []int64{-1, 4}}},
			Outputs: []engine.TensorInfo{{Name: "output_label", Kind: "tensor"}, {Name: "output_probability", Kind: "sequence"}},
		},
		Outputs: []engine.OutputValue{
			{Kind: engine.OutputUnknown, Description: "label tensor"},
			probabilities,
		},
	}
}

// MapSequence builds a sequence-of-maps output value.
func MapSequence(maps ...[]float64) engine.OutputValue {
	return engine.OutputValue{Kind: engine.OutputMapSequence, Maps: maps}
}

// SingleMap builds a map output value.
func SingleMap(values ...float64) engine.OutputValue {
	return engine.OutputValue{Kind: engine.OutputMap, Maps: [][]float64{values}}
}
