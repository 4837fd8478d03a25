package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hevelius/hevelius/pkg/catalog"
	"github.com/hevelius/hevelius/pkg/storage"
	"github.com/hevelius/hevelius/pkg/tasks"
)

// dbCmd represents the db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Interact with the hevelius database",
}

// shellCmd represents the shell command
var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive shell to the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, err := resolveDBPath()
		if err != nil {
			return err
		}

		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return fmt.Errorf("database file not found: %s", dbPath)
		}

		// Check if sqlite3 is in PATH
		sqlitePath, err := exec.LookPath("sqlite3")
		if err != nil {
			return fmt.Errorf("sqlite3 command not found in your PATH. Please install it to use the db shell")
		}

		// Print schema first
		fmt.Println("--> Database schema:")
		schemaCmd := exec.Command(sqlitePath, dbPath, ".schema")
		schemaCmd.Stdout = os.Stdout
		schemaCmd.Stderr = os.Stderr
		if err := schemaCmd.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: couldn't retrieve schema: %v\n", err)
		}
		fmt.Println("\n--> Starting interactive shell... (Ctrl+D to exit)")

		c := exec.Command(sqlitePath, dbPath)
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr

		return c.Run()
	},
}

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints statistics about the catalogs, frames and tasks in the database.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(db *storage.DB, _ *tasks.Lifecycle, _ *catalog.Index) error {
			stats, err := db.GetStats(commandContext(cmd))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
			fmt.Fprintln(w, "CATALOG\tOBJECTS\t")
			var totalObjects int
			for _, c := range stats.Catalogs {
				fmt.Fprintf(w, "%s\t%d\t\n", c.Catalog, c.Objects)
				totalObjects += c.Objects
			}
			fmt.Fprintf(w, "TOTAL\t%d\t\n", totalObjects)
			fmt.Fprintln(w, " \t \t")

			fmt.Fprintln(w, "TASK STATE\tTASKS\t")
			var totalTasks int
			for _, s := range stats.Tasks {
				fmt.Fprintf(w, "%s\t%d\t\n", s.State, s.Count)
				totalTasks += s.Count
			}
			fmt.Fprintf(w, "TOTAL\t%d\t\n", totalTasks)
			fmt.Fprintln(w, " \t \t")

			fmt.Fprintf(w, "FRAMES\t%d\t\n", stats.Frames)
			return w.Flush()
		})
	},
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(shellCmd)
	dbCmd.AddCommand(statsCmd)
}
