package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/meridian-keys/campaign-tracker/internal/schema"
)

// validateInput is one entry in the events file.
type validateInput struct {
	Event      string         `json:"event"`
	Properties map[string]any `json:"properties"`
}

var validateCmd = &cobra.Command{
	Use:   "validate <events.json>",
	Short: "Run the schema validator over a file of events",
	Long:  "Reads a JSON array of {event, properties} objects and prints each event's validation outcome. Exits nonzero if any event is invalid.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read events file")
		}

		var events []validateInput
		if err := json.Unmarshal(raw, &events); err != nil {
			return eris.Wrap(err, "parse events file")
		}

		invalid := 0
		for i, ev := range events {
			result := schema.Validate(ev.Event, ev.Properties)

			status := "ok"
			if !result.IsValid {
				status = "INVALID"
				invalid++
			}
			fmt.Printf("[%d] %s: %s\n", i, ev.Event, status)
			for _, e := range result.Errors {
				fmt.Printf("      error: %s\n", e)
			}
			for _, w := range result.Warnings {
				fmt.Printf("      warning: %s\n", w)
			}
		}

		fmt.Printf("\n%d events, %d invalid\n", len(events), invalid)
		if invalid > 0 {
			return eris.Errorf("%d invalid events", invalid)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
