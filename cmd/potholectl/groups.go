package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwise1/pothole_watch/internal/grouping"
	"github.com/bwise1/pothole_watch/internal/model"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	outputJSON = "json"
	outputYAML = "yaml"
)

// groupRecord is the CLI rendering of a group summary.
type groupRecord struct {
	GroupID     string  `json:"group_id" yaml:"group_id"`
	Latitude    float64 `json:"latitude" yaml:"latitude"`
	Longitude   float64 `json:"longitude" yaml:"longitude"`
	ReportCount int     `json:"report_count" yaml:"report_count"`
	ReportIDs   []int64 `json:"report_ids" yaml:"report_ids"`
	Status      string  `json:"status" yaml:"status"`
	Latest      string  `json:"latest_reported_at" yaml:"latest_reported_at"`
	Ungrouped   bool    `json:"ungrouped,omitempty" yaml:"ungrouped,omitempty"`
}

func NewGroupsCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Print the aggregated pothole groups of all non-rejected reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output != outputJSON && output != outputYAML {
				return fmt.Errorf("unknown output format %q (want json or yaml)", output)
			}

			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			reports, err := st.ListReports(cmd.Context(), model.ListReportsParams{ExcludeRejected: true})
			if err != nil {
				return fmt.Errorf("listing reports: %w", err)
			}

			groups := grouping.AggregateGroups(reports)
			records := make([]groupRecord, 0, len(groups))
			for _, g := range groups {
				records = append(records, groupRecord{
					GroupID:     g.GroupID,
					Latitude:    g.Latitude,
					Longitude:   g.Longitude,
					ReportCount: g.ReportCount,
					ReportIDs:   g.ReportIDs,
					Status:      string(g.Status),
					Latest:      g.LatestReportedAt.UTC().Format(time.RFC3339),
					Ungrouped:   g.Ungrouped,
				})
			}

			out := cmd.OutOrStdout()
			if output == outputYAML {
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(records)
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", outputJSON, "output format: json or yaml")
	return cmd
}
