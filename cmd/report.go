package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/meridian-keys/campaign-tracker/internal/store"
)

var (
	reportOut   string
	reportLimit int
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export an attribution and booking summary workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		f := xlsx.NewFile()

		if err := addTrafficSheet(cmd, f, st); err != nil {
			return err
		}
		if err := addBookingsSheet(cmd, f, st); err != nil {
			return err
		}
		if err := addEventsSheet(cmd, f, st); err != nil {
			return err
		}

		if err := f.Save(reportOut); err != nil {
			return eris.Wrap(err, "save report")
		}

		zap.L().Info("report written", zap.String("path", reportOut))
		return nil
	},
}

func addTrafficSheet(cmd *cobra.Command, f *xlsx.File, st store.Store) error {
	counts, err := st.TrafficSourceCounts(cmd.Context())
	if err != nil {
		return eris.Wrap(err, "traffic source counts")
	}

	sheet, err := f.AddSheet("Traffic Sources")
	if err != nil {
		return eris.Wrap(err, "add sheet")
	}
	addRow(sheet, "Source", "Visitors")

	sources := make([]string, 0, len(counts))
	for s := range counts {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	for _, s := range sources {
		addRow(sheet, s, fmt.Sprintf("%d", counts[s]))
	}
	return nil
}

func addBookingsSheet(cmd *cobra.Command, f *xlsx.File, st store.Store) error {
	bookings, err := st.ListBookings(cmd.Context(), reportLimit)
	if err != nil {
		return eris.Wrap(err, "list bookings")
	}

	sheet, err := f.AddSheet("Bookings")
	if err != nil {
		return eris.Wrap(err, "add sheet")
	}
	addRow(sheet, "ID", "Name", "Email", "Phone", "Preferred Date", "Source", "Campaign", "Created")
	for _, b := range bookings {
		addRow(sheet, b.ID, b.Name, b.Email, b.Phone, b.PreferredDate, b.Source,
			b.CampaignID, b.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func addEventsSheet(cmd *cobra.Command, f *xlsx.File, st store.Store) error {
	events, err := st.ListCapturedEvents(cmd.Context(), reportLimit)
	if err != nil {
		return eris.Wrap(err, "list captured events")
	}

	sheet, err := f.AddSheet("Events")
	if err != nil {
		return eris.Wrap(err, "add sheet")
	}
	addRow(sheet, "Event", "Timestamp", "Forwarded", "Valid", "Errors")
	for _, ev := range events {
		addRow(sheet, ev.EventName, ev.Timestamp.Format(time.RFC3339),
			fmt.Sprintf("%t", ev.Success),
			fmt.Sprintf("%t", ev.Validation.IsValid),
			fmt.Sprintf("%d", len(ev.Validation.Errors)))
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func init() {
	reportCmd.Flags().StringVar(&reportOut, "out", "report.xlsx", "output workbook path")
	reportCmd.Flags().IntVar(&reportLimit, "limit", 1000, "max rows per sheet")
	rootCmd.AddCommand(reportCmd)
}
