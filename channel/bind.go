package channel

import (
	"context"

	"github.com/amikos-tech/onnx-channel/adapter"
)

// Method names served by Bind.
const (
	MethodInitialize = "initialize"
	MethodPredict    = "predict"
	MethodDispose    = "dispose"
	MethodCheckOrt   = "checkOrt"
)

// Inference is the adapter surface exposed over the channel.
type Inference interface {
	Initialize(modelPath string) (string, error)
	PredictWith(decode adapter.RequestDecoder) ([]float64, error)
	Dispose() bool
	CheckCapability() adapter.Capability
}

// Bind registers the four inference methods on c.
func Bind(c *Channel, inf Inference) {
	c.Handle(MethodInitialize, func(_ context.Context, args Args) (any, error) {
		// A non-string path is treated as absent.
		path, _ := args.String("modelPath")
		return inf.Initialize(path)
	})

	c.Handle(MethodPredict, func(_ context.Context, args Args) (any, error) {
		// Arguments are decoded by the adapter after its session check.
		return inf.PredictWith(func() (adapter.PredictRequest, error) {
			inputs, err := args.Float32s("inputs")
			if err != nil {
				return adapter.PredictRequest{}, err
			}
			shape, err := args.Int64s("shape")
			if err != nil {
				return adapter.PredictRequest{}, err
			}
			name, _ := args.String("inputName")
			return adapter.PredictRequest{Inputs: inputs, Shape: shape, InputName: name}, nil
		})
	})

	c.Handle(MethodDispose, func(_ context.Context, _ Args) (any, error) {
		return inf.Dispose(), nil
	})

	c.Handle(MethodCheckOrt, func(_ context.Context, _ Args) (any, error) {
		return inf.CheckCapability(), nil
	})
}
