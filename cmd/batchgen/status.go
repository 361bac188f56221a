package main

import (
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"batchgen/internal/engine"
	"batchgen/pkg/types"
)

type statusOutput struct {
	types.StatusResponse
	Events []eventOutput `json:"events,omitempty"`
}

type eventOutput struct {
	Name   string         `json:"name"`
	Handle string         `json:"handle,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Load the configured model and print the engine status as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub := engine.NewMemoryPublisher(64)
			mgr, err := a.newManager(cmd.Context(), pub, nil)
			if mgr == nil {
				return err
			}
			out := statusOutput{StatusResponse: mgr.Status()}
			_ = mgr.Close()
			for _, e := range pub.Events() {
				out.Events = append(out.Events, eventOutput{Name: e.Name, Handle: e.Handle, Fields: e.Fields})
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(out); encErr != nil {
				return encErr
			}
			return err
		},
	}
}
