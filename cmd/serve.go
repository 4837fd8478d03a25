package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hevelius/hevelius/internal/metrics"
	"github.com/hevelius/hevelius/internal/server"
	"github.com/hevelius/hevelius/internal/utils"
	"github.com/hevelius/hevelius/pkg/catalog"
	"github.com/hevelius/hevelius/pkg/planner"
	"github.com/hevelius/hevelius/pkg/tasks"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		listenAddr, _ := cmd.Flags().GetString("listen")
		if !cmd.Flags().Changed("listen") {
			listenAddr = viper.GetString("server.listen")
		}

		jm, err := server.NewJWTManager(viper.GetString("server.jwt_secret"), viper.GetDuration("server.token_ttl"))
		if err != nil {
			return err
		}
		m, err := metrics.New(nil)
		if err != nil {
			return err
		}

		db, _, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		lc := tasks.New(db, tasks.Config{Log: utils.Log, Metrics: m})
		ix := catalog.New(db, utils.Log)
		site := siteFromConfig(cmd)
		srv, err := server.New(server.Config{
			Tasks:        lc,
			Planner:      planner.New(planner.Config{Tasks: lc, Resolver: ix, Log: utils.Log, Metrics: m}),
			Catalog:      ix,
			Frames:       db,
			JWT:          jm,
			Metrics:      m,
			Log:          utils.Log,
			Site:         site,
			PlanDefaults: planDefaults(site),
			Version:      Version,
			RateLimit:    viper.GetInt("server.rate_limit"),
			MaxConns:     viper.GetInt("server.max_conns"),
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return srv.Start(ctx, listenAddr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address (default: server.listen)")
}

