package main

import (
	"fmt"
	"strconv"

	"github.com/bwise1/pothole_watch/internal/grouping"
	"github.com/spf13/cobra"
)

func NewDistanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "distance LAT1 LON1 LAT2 LON2",
		Short: "Great-circle distance in meters and whether the points are duplicates",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			coords := make([]float64, len(args))
			for i, a := range args {
				v, err := strconv.ParseFloat(a, 64)
				if err != nil {
					return fmt.Errorf("argument %d: %q is not a number", i+1, a)
				}
				coords[i] = v
			}

			d := grouping.Distance(coords[0], coords[1], coords[2], coords[3])
			fmt.Fprintf(cmd.OutOrStdout(), "%.2f m (duplicate: %t)\n", d, d <= grouping.DuplicateRadiusMeters)
			return nil
		},
	}
}
