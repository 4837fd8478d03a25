package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hevelius/hevelius/internal/utils"
	"github.com/hevelius/hevelius/pkg/catalog"
	"github.com/hevelius/hevelius/pkg/planner"
	"github.com/hevelius/hevelius/pkg/sky"
	"github.com/hevelius/hevelius/pkg/storage"
	"github.com/hevelius/hevelius/pkg/tasks"
)

// planCmd represents the plan command
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Build the observation plan for a night and claim its tasks",
	Long: `Build the observation plan for a night. Pending tasks whose targets rise above
the minimum altitude while the Sun is below the darkness threshold are ordered by
priority, then by the time they culminate, and claimed for the new plan.`,
	Example: `  hevelius plan --date 2024-01-15
  hevelius plan --date tonight --lat 50.06 --lon 19.94 --max-tasks 10 --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dateStr, _ := cmd.Flags().GetString("date")
		maxTasks, _ := cmd.Flags().GetInt("max-tasks")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		date, err := utils.ParseDate(dateStr, time.Now())
		if err != nil {
			return err
		}
		site := siteFromConfig(cmd)
		req := planDefaults(site)
		req.Date = date
		req.MaxTasks = maxTasks
		req.DryRun = dryRun
		if cmd.Flags().Changed("min-alt") {
			req.MinAlt, _ = cmd.Flags().GetFloat64("min-alt")
		}
		if cmd.Flags().Changed("sun-alt") {
			req.SunAlt, _ = cmd.Flags().GetFloat64("sun-alt")
		}

		return withStore(func(_ *storage.DB, lc *tasks.Lifecycle, ix *catalog.Index) error {
			p := planner.New(planner.Config{Tasks: lc, Resolver: ix, Log: utils.Log})
			plan, err := p.Plan(commandContext(cmd), req)
			if err != nil {
				return err
			}
			printPlan(plan)
			return nil
		})
	},
}

var planReleaseCmd = &cobra.Command{
	Use:   "release <plan-id>",
	Short: "Discard a plan and return its claimed tasks to the pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(_ *storage.DB, lc *tasks.Lifecycle, ix *catalog.Index) error {
			p := planner.New(planner.Config{Tasks: lc, Resolver: ix, Log: utils.Log})
			n, err := p.Discard(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Released %d tasks of plan %s\n", n, args[0])
			return nil
		})
	},
}

func printPlan(plan *planner.Plan) {
	name := plan.Site.Name
	if name == "" {
		name = fmt.Sprintf("lat %.4f lon %.4f", plan.Site.Lat, plan.Site.Lon)
	}
	mode := ""
	if plan.DryRun {
		mode = " (dry run, nothing claimed)"
	}
	fmt.Printf("Plan %s for the night of %s at %s%s\n", plan.ID, plan.Date, name, mode)
	if !plan.Dark {
		fmt.Println("The Sun never gets low enough: no dark time.")
	} else {
		fmt.Printf("Dark from %s to %s UTC (%s)\n\n", plan.Night.Start.Format("15:04"), plan.Night.End.Format("15:04"), plan.Night.Duration().Round(time.Minute))
	}

	if len(plan.Entries) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "#\tTASK\tPRIO\tOBJECT\tRA\tDEC\tRISE\tBEST\tSET\tMAX ALT\t")
		for _, e := range plan.Entries {
			fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%.1f\t\n",
				e.Order, e.TaskID, e.Priority, e.Object, sky.FormatRA(e.Target.RA), sky.FormatDec(e.Target.Dec),
				e.Rise.Format("15:04"), e.Best.Format("15:04"), e.Set.Format("15:04"), e.BestAlt)
		}
		w.Flush()
	} else {
		fmt.Println("No task can be observed.")
	}

	if len(plan.Skipped) > 0 {
		fmt.Printf("\nSkipped %d tasks:\n", len(plan.Skipped))
		for _, s := range plan.Skipped {
			fmt.Printf("  task %d: %s %s\n", s.TaskID, s.Reason, s.Detail)
		}
	}
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.AddCommand(planReleaseCmd)

	planCmd.Flags().String("date", "tonight", "Night to plan: YYYY-MM-DD, today, tonight or tomorrow")
	planCmd.Flags().Float64("lat", 0, "Site latitude in degrees (default: site.lat from the config)")
	planCmd.Flags().Float64("lon", 0, "Site longitude in degrees, east positive (default: site.lon from the config)")
	planCmd.Flags().Float64("min-alt", planner.DefaultMinAlt, "Minimum target altitude in degrees (default: planner.min_altitude)")
	planCmd.Flags().Float64("sun-alt", planner.DefaultSunAlt, "Sun altitude that counts as dark (default: planner.sun_altitude)")
	planCmd.Flags().Int("max-tasks", 0, "Maximum number of tasks in the plan (0 = no limit)")
	planCmd.Flags().Bool("dry-run", false, "Compute the plan without claiming any task")
}
