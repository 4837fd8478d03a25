package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hevelius/hevelius/internal/utils"
	"github.com/hevelius/hevelius/pkg/catalog"
	"github.com/hevelius/hevelius/pkg/catalogsrc"
	"github.com/hevelius/hevelius/pkg/sky"
	"github.com/hevelius/hevelius/pkg/storage"
	"github.com/hevelius/hevelius/pkg/tasks"
)

// frameCmd represents the frame command
var frameCmd = &cobra.Command{
	Use:   "frame",
	Short: "Record captured and plate-solved frames",
}

var frameAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Record a single frame",
	Example: `  hevelius frame add --file 2024-01-15/m1_001.fits --ra 83.63d --decl 22.01 --captured 2024-01-15T21:04:05Z --task 12`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		raStr, _ := cmd.Flags().GetString("ra")
		decStr, _ := cmd.Flags().GetString("decl")
		captured, _ := cmd.Flags().GetString("captured")
		taskID, _ := cmd.Flags().GetInt64("task")
		object, _ := cmd.Flags().GetString("object")
		exposure, _ := cmd.Flags().GetFloat64("exposure")
		filter, _ := cmd.Flags().GetString("filter")
		fwhm, _ := cmd.Flags().GetFloat64("fwhm")
		quality, _ := cmd.Flags().GetString("quality")
		comment, _ := cmd.Flags().GetString("comment")

		if file == "" || raStr == "" || decStr == "" {
			return errors.New("--file, --ra and --decl are required")
		}
		ra, err := sky.ParseRA(raStr)
		if err != nil {
			return err
		}
		dec, err := sky.ParseDec(decStr)
		if err != nil {
			return err
		}
		at := time.Now().UTC()
		if captured != "" {
			if at, err = utils.ParseTimestamp(captured); err != nil {
				return err
			}
		}

		f := storage.Frame{
			Filename:   file,
			TaskID:     taskID,
			Object:     object,
			RA:         ra,
			Dec:        dec,
			CapturedAt: at,
			Exposure:   exposure,
			Filter:     filter,
			FWHM:       fwhm,
			Solved:     true,
			Quality:    quality,
			Comment:    comment,
		}
		return importFrames(cmd, []storage.Frame{f})
	},
}

var frameImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a CSV list of solved frames",
	Long: `Import a CSV list of solved frames. Required columns are filename, ra, decl and
captured_at; task_id, object, exposure, filter, fwhm, eccentricity, solved, quality
and comment are optional. Frames already known by filename are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		raUnit, _ := cmd.Flags().GetString("ra-unit")
		if file == "" {
			return errors.New("--file is required")
		}

		in, err := os.Open(file)
		if err != nil {
			return err
		}
		defer in.Close()

		opts := catalogsrc.Options{RAUnit: catalogsrc.RAUnit(raUnit)}
		frames, err := catalogsrc.ParseFrames(in, opts)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		return importFrames(cmd, frames)
	},
}

func importFrames(cmd *cobra.Command, frames []storage.Frame) error {
	path, err := resolveDBPath()
	if err != nil {
		return err
	}
	return utils.WithLock(path, func() error {
		return withStore(func(db *storage.DB, _ *tasks.Lifecycle, _ *catalog.Index) error {
			added, err := db.AddFrames(commandContext(cmd), frames)
			if err != nil {
				return err
			}
			fmt.Printf("Added %d of %d frames (%d already known)\n", added, len(frames), len(frames)-added)
			return nil
		})
	})
}

func init() {
	rootCmd.AddCommand(frameCmd)
	frameCmd.AddCommand(frameAddCmd)
	frameCmd.AddCommand(frameImportCmd)

	frameAddCmd.Flags().String("file", "", "Frame file name, unique per frame")
	frameAddCmd.Flags().String("ra", "", "Solved right ascension (hours, or degrees with a 'd' suffix)")
	frameAddCmd.Flags().String("decl", "", "Solved declination in degrees")
	frameAddCmd.Flags().String("captured", "", "Capture time, RFC 3339 or YYYY-MM-DD (default: now)")
	frameAddCmd.Flags().Int64("task", 0, "Task the frame was taken for")
	frameAddCmd.Flags().String("object", "", "Object name")
	frameAddCmd.Flags().Float64("exposure", 0, "Exposure time in seconds")
	frameAddCmd.Flags().String("filter", "", "Filter name")
	frameAddCmd.Flags().Float64("fwhm", 0, "Measured FWHM")
	frameAddCmd.Flags().String("quality", "", "Quality mark: good, poor or bad")
	frameAddCmd.Flags().String("comment", "", "Free text comment")

	frameImportCmd.Flags().String("file", "", "CSV file to import")
	frameImportCmd.Flags().String("ra-unit", "deg", "Unit of bare numeric RA values: deg or hours")
}
