package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hevelius/hevelius/pkg/catalog"
	"github.com/hevelius/hevelius/pkg/heatmap"
	"github.com/hevelius/hevelius/pkg/sky"
	"github.com/hevelius/hevelius/pkg/storage"
	"github.com/hevelius/hevelius/pkg/tasks"
)

// heatmapCmd represents the heatmap command
var heatmapCmd = &cobra.Command{
	Use:   "heatmap",
	Short: "Show which parts of the sky have been imaged the most",
	RunE: func(cmd *cobra.Command, args []string) error {
		resolution, _ := cmd.Flags().GetFloat64("resolution")
		top, _ := cmd.Flags().GetInt("top")
		minFrames, _ := cmd.Flags().GetInt("min-frames")

		return withStore(func(db *storage.DB, _ *tasks.Lifecycle, _ *catalog.Index) error {
			m, err := heatmap.Build(commandContext(cmd), db, resolution)
			if err != nil {
				return err
			}
			if m.Total == 0 {
				fmt.Println("No frames recorded yet.")
				return nil
			}

			cells := m.TopN(top)
			if minFrames > 0 {
				cells = m.Groups(minFrames)
			}
			fmt.Printf("%d frames in %d cells of %g deg (%dx%d grid)\n\n", m.Total, len(m.Counts), m.Resolution, m.RABins, m.DecBins)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(w, "RA FROM\tDEC\tFRAMES\tAREA (sq deg)\tCENTER\t")
			for _, c := range cells {
				raMin, _, decMin, decMax := m.Bounds(c.Cell)
				center := m.Center(c.Cell)
				fmt.Fprintf(w, "%s\t%+.1f..%+.1f\t%d\t%.2f\t%s %s\t\n",
					sky.Deg2RAh(raMin), decMin, decMax, c.Count, m.CellArea(c.Cell),
					sky.FormatRA(center.RA), sky.FormatDec(center.Dec))
			}
			return w.Flush()
		})
	},
}

func init() {
	rootCmd.AddCommand(heatmapCmd)
	heatmapCmd.Flags().Float64("resolution", heatmap.DefaultResolution, "Cell size in degrees")
	heatmapCmd.Flags().Int("top", 10, "Number of most imaged cells to show (0 = all)")
	heatmapCmd.Flags().Int("min-frames", 0, "Show every cell with at least this many frames instead of the top list")
}
