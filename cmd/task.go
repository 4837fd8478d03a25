package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hevelius/hevelius/internal/utils"
	"github.com/hevelius/hevelius/pkg/catalog"
	"github.com/hevelius/hevelius/pkg/sky"
	"github.com/hevelius/hevelius/pkg/storage"
	"github.com/hevelius/hevelius/pkg/tasks"
)

// taskCmd represents the task command
var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create and track observation tasks",
	Long: `Create and track observation tasks.

A task moves through: template -> new -> claimed -> in-progress -> completed | failed.
Claims are made by night plans ("hevelius plan"); a claimed task can be released
back to new or failed.`,
}

var taskAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a task",
	Example: `  hevelius task add --object M42 --exposure 60 --filter Ha --priority 3
  hevelius task add --ra "20 59 17" --decl "+44 31 44" --object "NGC 7000" --skip-before 2024-08-01`,
	RunE: func(cmd *cobra.Command, args []string) error {
		template, _ := cmd.Flags().GetBool("template")
		userID, _ := cmd.Flags().GetInt64("user")

		f, err := taskFieldsFromFlags(cmd.Flags())
		if err != nil {
			return err
		}
		t := storage.Task{UserID: userID, State: storage.StateNew}
		if template {
			t.State = storage.StateTemplate
		}
		applyFields(&t, f)

		return withStore(func(_ *storage.DB, lc *tasks.Lifecycle, _ *catalog.Index) error {
			created, err := lc.Create(commandContext(cmd), t)
			if err != nil {
				return err
			}
			fmt.Printf("Created task %d (%s)\n", created.ID, created.State)
			return nil
		})
	},
}

var taskGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTaskID(args[0])
		if err != nil {
			return err
		}
		return withStore(func(db *storage.DB, lc *tasks.Lifecycle, _ *catalog.Index) error {
			ctx := commandContext(cmd)
			t, err := lc.Get(ctx, id)
			if err != nil {
				return err
			}
			printTask(os.Stdout, t)
			frames, err := db.FramesForTask(ctx, id)
			if err != nil {
				return err
			}
			if len(frames) > 0 {
				fmt.Printf("\nFrames (%d):\n", len(frames))
				for _, f := range frames {
					fmt.Printf("  %s  %s  %s\n", f.CapturedAt.Format(time.RFC3339), f.Filename, f.Quality)
				}
			}
			return nil
		})
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		states, _ := cmd.Flags().GetStringSlice("state")
		object, _ := cmd.Flags().GetString("object")
		plan, _ := cmd.Flags().GetString("plan")
		limit, _ := cmd.Flags().GetInt("limit")
		desc, _ := cmd.Flags().GetBool("desc")

		filter := storage.TaskFilter{Object: object, ClaimOwner: plan, Limit: limit, Descending: desc}
		for _, s := range states {
			filter.States = append(filter.States, storage.TaskState(strings.TrimSpace(s)))
		}
		if cmd.Flags().Changed("user") {
			uid, _ := cmd.Flags().GetInt64("user")
			filter.UserID = &uid
		}

		return withStore(func(_ *storage.DB, lc *tasks.Lifecycle, _ *catalog.Index) error {
			list, err := lc.List(commandContext(cmd), filter)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No tasks found.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATE\tPRIO\tOBJECT\tRA\tDEC\tEXP\tFILTER\tUSER\tCREATED\t")
			for _, t := range list {
				ra, dec := "-", "-"
				if t.HasCoordinates() {
					ra, dec = sky.FormatRA(*t.RA), sky.FormatDec(*t.Dec)
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\t%g\t%s\t%d\t%s\t\n",
					t.ID, t.State, t.Priority, t.Object, ra, dec, t.Exposure, t.Filter, t.UserID, t.CreatedAt.Format("2006-01-02"))
			}
			return w.Flush()
		})
	},
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change the parameters of a task that is not finished yet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTaskID(args[0])
		if err != nil {
			return err
		}
		f, err := taskFieldsFromFlags(cmd.Flags())
		if err != nil {
			return err
		}
		if f == (storage.TaskFields{}) {
			return errors.New("nothing to update, see 'hevelius task update --help'")
		}
		return withStore(func(_ *storage.DB, lc *tasks.Lifecycle, _ *catalog.Index) error {
			t, err := lc.Update(commandContext(cmd), id, f)
			if err != nil {
				return err
			}
			printTask(os.Stdout, t)
			return nil
		})
	},
}

// transitionCmd builds one of the state-changing subcommands.
func transitionCmd(use, short string, run func(lc *tasks.Lifecycle, cmd *cobra.Command, id int64) (storage.Task, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withStore(func(_ *storage.DB, lc *tasks.Lifecycle, _ *catalog.Index) error {
				t, err := run(lc, cmd, id)
				if err != nil {
					return err
				}
				fmt.Printf("Task %d is now %s\n", t.ID, t.State)
				return nil
			})
		},
	}
}

var (
	taskSubmitCmd = transitionCmd("submit", "Turn a template into a schedulable task", func(lc *tasks.Lifecycle, cmd *cobra.Command, id int64) (storage.Task, error) {
		return lc.Submit(commandContext(cmd), id)
	})
	taskStartCmd = transitionCmd("start", "Mark a claimed task as being observed", func(lc *tasks.Lifecycle, cmd *cobra.Command, id int64) (storage.Task, error) {
		return lc.Start(commandContext(cmd), id)
	})
	taskCompleteCmd = transitionCmd("complete", "Mark an in-progress task as done", func(lc *tasks.Lifecycle, cmd *cobra.Command, id int64) (storage.Task, error) {
		return lc.Complete(commandContext(cmd), id)
	})
	taskFailCmd = transitionCmd("fail", "Mark a claimed or in-progress task as failed", func(lc *tasks.Lifecycle, cmd *cobra.Command, id int64) (storage.Task, error) {
		reason, _ := cmd.Flags().GetString("reason")
		return lc.Fail(commandContext(cmd), id, reason)
	})
	taskReleaseCmd = transitionCmd("release", "Return a claimed task to the pool", func(lc *tasks.Lifecycle, cmd *cobra.Command, id int64) (storage.Task, error) {
		return lc.Release(commandContext(cmd), id)
	})
)

func parseTaskID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}

func addTaskFieldFlags(fs *pflag.FlagSet) {
	fs.String("object", "", "Object name, resolved against the catalogs when no coordinates are given")
	fs.String("ra", "", "Right ascension (hours, or degrees with a 'd' suffix)")
	fs.String("decl", "", "Declination in degrees")
	fs.Float64("exposure", 0, "Exposure time in seconds")
	fs.String("filter", "", "Filter name")
	fs.Int("binning", 1, "Binning (1-4)")
	fs.Bool("guiding", false, "Use autoguiding")
	fs.Int("priority", 0, "Priority, higher is scheduled first")
	fs.Float64("min-alt", 0, "Minimum altitude for this task in degrees")
	fs.String("skip-before", "", "Do not schedule before this date (RFC 3339 or YYYY-MM-DD)")
	fs.String("skip-after", "", "Do not schedule after this date (RFC 3339 or YYYY-MM-DD)")
	fs.String("descr", "", "Description")
	fs.String("comment", "", "Comment")
}

// taskFieldsFromFlags collects the flags that were set on the command line.
func taskFieldsFromFlags(fs *pflag.FlagSet) (storage.TaskFields, error) {
	var f storage.TaskFields
	str := func(name string) *string {
		if !fs.Changed(name) {
			return nil
		}
		v, _ := fs.GetString(name)
		return &v
	}
	f.Object, f.Filter, f.Descr, f.Comment = str("object"), str("filter"), str("descr"), str("comment")

	if fs.Changed("ra") {
		raStr, _ := fs.GetString("ra")
		ra, err := sky.ParseRA(raStr)
		if err != nil {
			return f, err
		}
		f.RA = &ra
	}
	if fs.Changed("decl") {
		decStr, _ := fs.GetString("decl")
		dec, err := sky.ParseDec(decStr)
		if err != nil {
			return f, err
		}
		f.Dec = &dec
	}
	for name, dst := range map[string]**float64{"exposure": &f.Exposure, "min-alt": &f.MinAlt} {
		if fs.Changed(name) {
			v, _ := fs.GetFloat64(name)
			*dst = &v
		}
	}
	for name, dst := range map[string]**int{"binning": &f.Binning, "priority": &f.Priority} {
		if fs.Changed(name) {
			v, _ := fs.GetInt(name)
			*dst = &v
		}
	}
	if fs.Changed("guiding") {
		v, _ := fs.GetBool("guiding")
		f.Guiding = &v
	}
	for name, dst := range map[string]**time.Time{"skip-before": &f.SkipBefore, "skip-after": &f.SkipAfter} {
		if s := str(name); s != nil {
			t, err := utils.ParseTimestamp(*s)
			if err != nil {
				return f, fmt.Errorf("--%s: %w", name, err)
			}
			*dst = &t
		}
	}
	return f, nil
}

func applyFields(t *storage.Task, f storage.TaskFields) {
	if f.Object != nil {
		t.Object = *f.Object
	}
	t.RA, t.Dec, t.MinAlt = f.RA, f.Dec, f.MinAlt
	t.SkipBefore, t.SkipAfter = f.SkipBefore, f.SkipAfter
	if f.Exposure != nil {
		t.Exposure = *f.Exposure
	}
	if f.Filter != nil {
		t.Filter = *f.Filter
	}
	if f.Binning != nil {
		t.Binning = *f.Binning
	}
	if f.Guiding != nil {
		t.Guiding = *f.Guiding
	}
	if f.Priority != nil {
		t.Priority = *f.Priority
	}
	if f.Descr != nil {
		t.Descr = *f.Descr
	}
	if f.Comment != nil {
		t.Comment = *f.Comment
	}
}

func printTask(w io.Writer, t storage.Task) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(k, v string) {
		if v != "" {
			fmt.Fprintf(tw, "%s:\t%s\n", k, v)
		}
	}
	row("Task", strconv.FormatInt(t.ID, 10))
	row("State", string(t.State))
	row("Claimed by", t.ClaimOwner)
	row("Fail reason", t.FailReason)
	row("Object", t.Object)
	if t.HasCoordinates() {
		row("RA", sky.FormatRA(*t.RA))
		row("DEC", sky.FormatDec(*t.Dec))
	}
	row("Exposure", fmt.Sprintf("%gs", t.Exposure))
	row("Filter", t.Filter)
	row("Binning", strconv.Itoa(t.Binning))
	row("Guiding", strconv.FormatBool(t.Guiding))
	row("Priority", strconv.Itoa(t.Priority))
	if t.MinAlt != nil {
		row("Min altitude", fmt.Sprintf("%g deg", *t.MinAlt))
	}
	if t.SkipBefore != nil {
		row("Skip before", t.SkipBefore.Format(time.RFC3339))
	}
	if t.SkipAfter != nil {
		row("Skip after", t.SkipAfter.Format(time.RFC3339))
	}
	row("User", strconv.FormatInt(t.UserID, 10))
	row("Description", t.Descr)
	row("Comment", t.Comment)
	row("Created", t.CreatedAt.Format(time.RFC3339))
	row("Updated", t.UpdatedAt.Format(time.RFC3339))
	if t.PerformedAt != nil {
		row("Performed", t.PerformedAt.Format(time.RFC3339))
	}
	tw.Flush()
}

func init() {
	rootCmd.AddCommand(taskCmd)
	for _, c := range []*cobra.Command{taskAddCmd, taskGetCmd, taskListCmd, taskUpdateCmd, taskSubmitCmd, taskStartCmd, taskCompleteCmd, taskFailCmd, taskReleaseCmd} {
		taskCmd.AddCommand(c)
	}

	addTaskFieldFlags(taskAddCmd.Flags())
	taskAddCmd.Flags().Int64("user", 0, "Owner user id")
	taskAddCmd.Flags().Bool("template", false, "Create the task as a template that is not scheduled until submitted")

	addTaskFieldFlags(taskUpdateCmd.Flags())

	taskListCmd.Flags().StringSlice("state", nil, "Only tasks in these states (template, new, claimed, in-progress, completed, failed)")
	taskListCmd.Flags().Int64("user", 0, "Only tasks of this user")
	taskListCmd.Flags().String("object", "", "Only tasks whose object name contains this text")
	taskListCmd.Flags().String("plan", "", "Only tasks claimed by this plan id")
	taskListCmd.Flags().Int("limit", 0, "Maximum number of tasks to list (0 = all)")
	taskListCmd.Flags().Bool("desc", false, "Newest first")

	taskFailCmd.Flags().String("reason", "", "Why the observation failed (required)")
}
