package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amikos-tech/onnx-channel/adapter"
	"github.com/amikos-tech/onnx-channel/ortlib"
)

func newPredictCmd(c *cli) *cobra.Command {
	var (
		model     string
		inputs    string
		shape     string
		inputName string
	)

	cmd := &cobra.Command{
		Use:     "predict",
		Short:   "Run one prediction and print the probabilities as JSON",
		Example: `  onnx-channel predict --model crop.onnx --inputs 90,42,43,20.87 --shape 1,4`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if model == "" {
				model = c.cfg.Model.Path
			}
			data, err := ortlib.ParseFloats(inputs)
			if err != nil {
				return fmt.Errorf("--inputs: %w", err)
			}
			dims, err := ortlib.ParseShape(shape)
			if err != nil {
				return fmt.Errorf("--shape: %w", err)
			}

			a := adapter.New(c.opener(), adapter.WithLogger(c.logger.Named("adapter")))
			defer a.Dispose()

			if _, err := a.Initialize(model); err != nil {
				return err
			}
			probabilities, err := a.Predict(adapter.PredictRequest{
				Inputs:    data,
				Shape:     dims,
				InputName: inputName,
			})
			if err != nil {
				return err
			}

			out, err := json.Marshal(probabilities)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "path to the .onnx model (defaults to model.path)")
	cmd.Flags().StringVar(&inputs, "inputs", "", "comma-separated feature values")
	cmd.Flags().StringVar(&shape, "shape", "", "comma-separated input shape, for example 1,4")
	cmd.Flags().StringVar(&inputName, "input-name", adapter.DefaultInputName, "model input to feed")
	_ = cmd.MarkFlagRequired("inputs")
	_ = cmd.MarkFlagRequired("shape")
	return cmd
}
