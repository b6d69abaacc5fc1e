package adapter

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/amikos-tech/onnx-channel/engine"
	"github.com/amikos-tech/onnx-channel/engine/enginetest"
)

const (
	cropModel  = "models/crop.onnx"
	otherModel = "models/other.onnx"
)

func validRequest() PredictRequest {
	return PredictRequest{Inputs: []float32{90, 42, 43, 20.8}, Shape: []int64{1, 4}}
}

func newReadyAdapter(t *testing.T, probabilities engine.OutputValue, opts ...Option) (*Adapter, *enginetest.Runtime) {
	t.Helper()
	rt := enginetest.NewRuntime(map[string]enginetest.Model{
		cropModel: enginetest.Classifier(probabilities),
	})
	a := New(rt.Opener(), opts...)
	msg, err := a.Initialize(cropModel)
	require.NoError(t, err)
	require.Equal(t, InitializedMessage, msg)
	return a, rt
}

func TestPredictBeforeInitialize(t *testing.T) {
	rt := enginetest.NewRuntime(nil)
	a := New(rt.Opener())

	for _, req := range []PredictRequest{validRequest(), {}} {
		_, err := a.Predict(req)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrModelNotInitialized)
		assert.Equal(t, CodeModelNotInitialized, CodeOf(err))
		assert.Equal(t, "ONNX session is null", err.Error())
	}
	assert.Equal(t, StateUninitialized, a.State())
	assert.Zero(t, rt.Opens())
}

func TestInitializeEmptyPath(t *testing.T) {
	rt := enginetest.NewRuntime(nil)
	a := New(rt.Opener())

	_, err := a.Initialize("")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelPathMissing)
	assert.Equal(t, CodeModelPathMissing, CodeOf(err))
	assert.Equal(t, "Model path not provided", err.Error())
	assert.Empty(t, rt.Events())
}

func TestInitializeLoadFailure(t *testing.T) {
	rt := enginetest.NewRuntime(nil)
	a := New(rt.Opener())

	_, err := a.Initialize("missing.onnx")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelInitFailed)
	assert.Equal(t, CodeModelInitFailed, CodeOf(err))
	assert.Equal(t, "Load model from missing.onnx failed: No such file or directory", err.Error())
	assert.Equal(t, StateUninitialized, a.State())
}

func TestInitializeOpenFailure(t *testing.T) {
	rt := enginetest.NewRuntime(nil)
	rt.FailOpen(engine.ErrUnavailable)
	a := New(rt.Opener())

	_, err := a.Initialize(cropModel)
	require.Error(t, err)
	assert.Equal(t, CodeModelInitFailed, CodeOf(err))
	assert.ErrorIs(t, err, engine.ErrUnavailable)
	assert.Equal(t, engine.ErrUnavailable.Error(), err.Error())
}

func TestInitializeWithoutOpener(t *testing.T) {
	a := New(nil)
	_, err := a.Initialize(cropModel)
	require.Error(t, err)
	assert.Equal(t, CodeModelInitFailed, CodeOf(err))
}

func TestPredictEmptyInputs(t *testing.T) {
	a, _ := newReadyAdapter(t, enginetest.SingleMap(0.2, 0.8))

	tests := []PredictRequest{
		{Inputs: nil, Shape: []int64{1, 4}},
		{Inputs: []float32{1, 2, 3, 4}, Shape: nil},
		{},
	}
	for _, req := range tests {
		_, err := a.Predict(req)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Equal(t, CodeInvalidInput, CodeOf(err))
		assert.Equal(t, "Input data or shape is empty", err.Error())
	}
	assert.Equal(t, StateReady, a.State())
}

func TestPredictAfterDispose(t *testing.T) {
	a, _ := newReadyAdapter(t, enginetest.SingleMap(0.2, 0.8))

	require.True(t, a.Dispose())

	_, err := a.Predict(validRequest())
	require.Error(t, err)
	assert.Equal(t, CodeModelNotInitialized, CodeOf(err))
	assert.Equal(t, StateUninitialized, a.State())
	assert.Empty(t, a.ModelPath())
}

func TestDisposeIsIdempotent(t *testing.T) {
	a, rt := newReadyAdapter(t, enginetest.SingleMap(0.2, 0.8))

	assert.True(t, a.Dispose())
	assert.True(t, a.Dispose())
	assert.True(t, New(nil).Dispose())

	assert.Equal(t, []string{"open", "load:" + cropModel, "release:" + cropModel, "close-runtime"}, rt.Events())
	assert.Zero(t, rt.LiveSessions())
}

func TestDisposeReleasesSessionBeforeEnvironment(t *testing.T) {
	a, rt := newReadyAdapter(t, enginetest.SingleMap(0.2, 0.8))
	a.Dispose()

	events := rt.Events()
	require.Len(t, events, 4)
	assert.Equal(t, "release:"+cropModel, events[2])
	assert.Equal(t, "close-runtime", events[3])
}

func TestDisposeLogsReleaseErrors(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	rt := enginetest.NewRuntime(map[string]enginetest.Model{cropModel: {CloseErr: errors.New("session busy")}})
	rt.CloseErr = errors.New("environment busy")
	a := New(rt.Opener(), WithLogger(zap.New(core)))

	_, err := a.Initialize(cropModel)
	require.NoError(t, err)

	assert.True(t, a.Dispose())
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "error disposing onnx resources", entry.Message)
	assert.Contains(t, entry.ContextMap()["error"], "session busy")
	assert.Contains(t, entry.ContextMap()["error"], "environment busy")
	assert.Equal(t, StateUninitialized, a.State())
}

func TestPredictSingleMap(t *testing.T) {
	a, rt := newReadyAdapter(t, enginetest.SingleMap(0.2, 0.8))

	got, err := a.Predict(validRequest())
	require.NoError(t, err)
	assert.Equal(t, []float64{0.2, 0.8}, got)

	inputs := rt.Inputs()
	require.Len(t, inputs, 1)
	assert.Equal(t, DefaultInputName, inputs[0].Name)
	assert.Equal(t, []int64{1, 4}, inputs[0].Shape)
	assert.Equal(t, 1, rt.ReleasedOutputs())
}

func TestPredictMapSequence(t *testing.T) {
	a, _ := newReadyAdapter(t, enginetest.MapSequence([]float64{0.1}, []float64{0.9}))

	got, err := a.Predict(validRequest())
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.9}, got)
}

func TestPredictUnknownOutput(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	a, rt := newReadyAdapter(t, engine.OutputValue{Kind: engine.OutputUnknown, Description: "*ort.Tensor[float32]"}, WithLogger(zap.New(core)))

	got, err := a.Predict(validRequest())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got)
	assert.Equal(t, 1, rt.ReleasedOutputs())

	warnings := logs.FilterMessage("unknown output type").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, "*ort.Tensor[float32]", warnings[0].ContextMap()["type"])
}

func TestPredictCustomInputName(t *testing.T) {
	a, rt := newReadyAdapter(t, enginetest.SingleMap(1))

	req := validRequest()
	req.InputName = "input"
	_, err := a.Predict(req)
	require.NoError(t, err)
	assert.Equal(t, "input", rt.Inputs()[0].Name)
}

func TestPredictShapeMismatch(t *testing.T) {
	a, rt := newReadyAdapter(t, enginetest.SingleMap(1))

	_, err := a.Predict(PredictRequest{Inputs: []float32{1, 2, 3}, Shape: []int64{1, 4}})
	require.Error(t, err)
	assert.Equal(t, CodeInferenceFailed, CodeOf(err))
	assert.Contains(t, err.Error(), "requires 4 elements, got 3")
	assert.Empty(t, rt.Inputs())
}

func TestPredictRunFailure(t *testing.T) {
	model := enginetest.Classifier(enginetest.SingleMap(1))
	model.RunErr = errors.New("Invalid input name: float_input")
	rt := enginetest.NewRuntime(map[string]enginetest.Model{cropModel: model})
	a := New(rt.Opener())
	_, err := a.Initialize(cropModel)
	require.NoError(t, err)

	_, err = a.Predict(validRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInferenceFailed)
	assert.Equal(t, "Invalid input name: float_input", err.Error())
	assert.Equal(t, StateReady, a.State())
}

func TestPredictMissingProbabilityOutput(t *testing.T) {
	model := enginetest.Classifier(enginetest.SingleMap(1))
	model.Outputs = model.Outputs[:1]
	rt := enginetest.NewRuntime(map[string]enginetest.Model{cropModel: model})
	a := New(rt.Opener())
	_, err := a.Initialize(cropModel)
	require.NoError(t, err)

	_, err = a.Predict(validRequest())
	require.Error(t, err)
	assert.Equal(t, CodeInferenceFailed, CodeOf(err))
	assert.Contains(t, err.Error(), "probability output at index 1")
	assert.Equal(t, 1, rt.ReleasedOutputs())
}

func TestReinitializeReleasesPreviousSessionBeforeActivation(t *testing.T) {
	rt := enginetest.NewRuntime(map[string]enginetest.Model{
		cropModel:  enginetest.Classifier(enginetest.SingleMap(0.2, 0.8)),
		otherModel: enginetest.Classifier(enginetest.SingleMap(0.7, 0.3)),
	})
	a := New(rt.Opener())

	_, err := a.Initialize(cropModel)
	require.NoError(t, err)
	_, err = a.Initialize(otherModel)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"open",
		"load:" + cropModel,
		"load:" + otherModel,
		"release:" + cropModel,
	}, rt.Events())
	assert.Equal(t, 1, rt.LiveSessions())
	assert.Equal(t, 1, rt.Opens())
	assert.Equal(t, otherModel, a.ModelPath())

	got, err := a.Predict(validRequest())
	require.NoError(t, err)
	assert.Equal(t, []float64{0.7, 0.3}, got)
}

func TestReinitializeFailureKeepsPreviousSession(t *testing.T) {
	a, rt := newReadyAdapter(t, enginetest.SingleMap(0.2, 0.8))

	_, err := a.Initialize("missing.onnx")
	require.Error(t, err)
	assert.Equal(t, CodeModelInitFailed, CodeOf(err))

	assert.Equal(t, StateReady, a.State())
	assert.Equal(t, cropModel, a.ModelPath())
	got, err := a.Predict(validRequest())
	require.NoError(t, err)
	assert.Equal(t, []float64{0.2, 0.8}, got)
	assert.Equal(t, 1, rt.LiveSessions())
}

func TestInitializeAfterDisposeReopensEnvironment(t *testing.T) {
	a, rt := newReadyAdapter(t, enginetest.SingleMap(1))
	a.Dispose()

	_, err := a.Initialize(cropModel)
	require.NoError(t, err)
	assert.Equal(t, 2, rt.Opens())
	assert.Equal(t, StateReady, a.State())
}

func TestCheckCapabilityIsStatic(t *testing.T) {
	a := New(nil)
	assert.Equal(t, Capability{Available: true, Version: "unknown"}, a.CheckCapability())

	ready, _ := newReadyAdapter(t, enginetest.SingleMap(1))
	assert.Equal(t, Capability{Available: true, Version: "unknown"}, ready.CheckCapability())
}

func TestModelInfo(t *testing.T) {
	a := New(nil)
	_, ok := a.ModelInfo()
	assert.False(t, ok)

	ready, _ := newReadyAdapter(t, enginetest.SingleMap(1))
	info, ok := ready.ModelInfo()
	require.True(t, ok)
	assert.Equal(t, cropModel, info.Path)
	assert.Equal(t, []string{"float_input"}, info.InputNames())
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
	codes []Code
}

func (o *recordingObserver) ObserveCall(op string, err error, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, op)
	o.codes = append(o.codes, CodeOf(err))
}

func TestObserverSeesEveryOperation(t *testing.T) {
	obs := &recordingObserver{}
	a, _ := newReadyAdapter(t, enginetest.SingleMap(1), WithObserver(obs))

	_, _ = a.Predict(PredictRequest{})
	_, _ = a.Predict(validRequest())
	a.CheckCapability()
	a.Dispose()
	_, _ = a.Predict(validRequest())

	assert.Equal(t, []string{OpInitialize, OpPredict, OpPredict, OpCheckCapability, OpDispose, OpPredict}, obs.calls)
	assert.Equal(t, []Code{"", CodeInvalidInput, "", "", "", CodeModelNotInitialized}, obs.codes)
}

func TestPredictWithChecksSessionBeforeDecoding(t *testing.T) {
	obs := &recordingObserver{}
	a := New(nil, WithObserver(obs))

	decoded := false
	_, err := a.PredictWith(func() (PredictRequest, error) {
		decoded = true
		return PredictRequest{}, errors.New("inputs: element 0 is not a number")
	})
	require.ErrorIs(t, err, ErrModelNotInitialized)
	assert.False(t, decoded)
	assert.Equal(t, []Code{CodeModelNotInitialized}, obs.codes)
}

func TestPredictWithDecodeFailureIsInvalidInput(t *testing.T) {
	obs := &recordingObserver{}
	a, _ := newReadyAdapter(t, enginetest.SingleMap(1), WithObserver(obs))

	_, err := a.PredictWith(func() (PredictRequest, error) {
		return PredictRequest{}, errors.New("inputs: element 0 is not a number")
	})
	require.Error(t, err)
	assert.Equal(t, CodeInvalidInput, CodeOf(err))
	assert.Contains(t, err.Error(), "element 0 is not a number")

	_, err = a.PredictWith(nil)
	assert.Equal(t, CodeInvalidInput, CodeOf(err))

	assert.Equal(t, []string{OpInitialize, OpPredict, OpPredict}, obs.calls)
	assert.Equal(t, []Code{"", CodeInvalidInput, CodeInvalidInput}, obs.codes)
}

func TestConcurrentPredictAndInitialize(t *testing.T) {
	rt := enginetest.NewRuntime(map[string]enginetest.Model{
		cropModel:  enginetest.Classifier(enginetest.SingleMap(0.2, 0.8)),
		otherModel: enginetest.Classifier(enginetest.SingleMap(0.7, 0.3)),
	})
	a := New(rt.Opener())
	_, err := a.Initialize(cropModel)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			path := cropModel
			if i%2 == 0 {
				path = otherModel
			}
			_, _ = a.Initialize(path)
		}(i)
		go func() {
			defer wg.Done()
			got, err := a.Predict(validRequest())
			if err == nil {
				assert.Len(t, got, 2)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, rt.LiveSessions())
}

func TestErrorHelpers(t *testing.T) {
	err := InvalidInputf(OpPredict, "inputs[%d] is not a number", 2)
	assert.Equal(t, CodeInvalidInput, err.Code)
	assert.Equal(t, "inputs[2] is not a number", err.Error())
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.NotErrorIs(t, err, ErrInferenceFailed)

	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.Equal(t, Code(""), CodeOf(nil))
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "uninitialized", StateUninitialized.String())
}
