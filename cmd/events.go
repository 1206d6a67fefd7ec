package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var eventsLimit int

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print recent captured events from the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		events, err := st.ListCapturedEvents(cmd.Context(), eventsLimit)
		if err != nil {
			return eris.Wrap(err, "list captured events")
		}

		enc := json.NewEncoder(os.Stdout)
		for _, ev := range events {
			if err := enc.Encode(ev); err != nil {
				return eris.Wrap(err, "encode event")
			}
		}

		fmt.Fprintf(os.Stderr, "%d events\n", len(events))
		return nil
	},
}

func init() {
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 20, "max events to print")
	rootCmd.AddCommand(eventsCmd)
}
