package main

import (
	"encoding/json"
	"errors"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/amikos-tech/onnx-channel/engine"
	"github.com/amikos-tech/onnx-channel/ortlib"
)

func newInspectCmd(c *cli) *cobra.Command {
	var (
		model  string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List a model's declared inputs and outputs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			if model == "" {
				model = c.cfg.Model.Path
			}
			if model == "" {
				return errors.New("--model is required")
			}

			rt, err := c.opener()()
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, rt.Close())
			}()

			session, err := rt.NewSession(model)
			if err != nil {
				return err
			}
			info := session.Info()
			if err := session.Close(); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			return pterm.DefaultTable.WithHasHeader(true).WithWriter(w).WithData(infoTable(info)).Render()
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "path to the .onnx model (defaults to model.path)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func infoTable(info engine.ModelInfo) pterm.TableData {
	data := pterm.TableData{{"Direction", "Name", "Kind", "Element", "Shape"}}
	add := func(direction string, tensors []engine.TensorInfo) {
		for _, t := range tensors {
			data = append(data, []string{direction, t.Name, t.Kind, t.ElementType, ortlib.Shape(t.Shape).String()})
		}
	}
	add("input", info.Inputs)
	add("output", info.Outputs)
	return data
}
