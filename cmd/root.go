package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/hevelius/hevelius/internal/utils"
	"github.com/hevelius/hevelius/pkg/catalog"
	"github.com/hevelius/hevelius/pkg/planner"
	"github.com/hevelius/hevelius/pkg/sky"
	"github.com/hevelius/hevelius/pkg/storage"
	"github.com/hevelius/hevelius/pkg/tasks"
)

var cfgFile string

const (
	LOGO = `
	 _                    _ _
	| |__   _____   _____| (_)_   _ ___
	| '_ \ / _ \ \ / / _ \ | | | | / __|
	| | | |  __/\ V /  __/ | | |_| \__ \
	|_| |_|\___| \_/ \___|_|_|\__,_|___/

`
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hevelius",
	Short: "Observation task manager and night planner for a remote observatory.",
	Long: LOGO + `hevelius keeps track of observation requests, astronomical catalogs and
captured frames, and decides which tasks a telescope should take on a given night.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.hevelius.yaml)")

	// Global flags
	rootCmd.PersistentFlags().String("db", "", "Path to SQLite DB file (default: ~/.config/hevelius/hevelius.sqlite)")
	rootCmd.PersistentFlags().StringP("proxy", "", "", "HTTP Proxy used for catalog downloads (Example: http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")

	viper.BindPFlag("db.path", rootCmd.PersistentFlags().Lookup("db"))
}

func setDefaults() {
	viper.SetDefault("db.path", "")
	viper.SetDefault("site.name", "")
	viper.SetDefault("site.lat", 0.0)
	viper.SetDefault("site.lon", 0.0)
	viper.SetDefault("planner.min_altitude", planner.DefaultMinAlt)
	viper.SetDefault("planner.sun_altitude", planner.DefaultSunAlt)
	viper.SetDefault("planner.step_minutes", int(planner.DefaultStep/time.Minute))
	viper.SetDefault("server.listen", ":8080")
	viper.SetDefault("server.jwt_secret", "")
	viper.SetDefault("server.token_ttl", "1h")
	viper.SetDefault("server.max_conns", 64)
	viper.SetDefault("server.rate_limit", 100)
	viper.SetDefault("catalogs.timeout", "30s")
	viper.SetDefault("catalogs.retries", 3)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".hevelius")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("HEVELIUS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := filepath.Join(home, ".hevelius.yaml")
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		}
	}

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)
}

// resolveDBPath expands ~ and applies the default location.
func resolveDBPath() (string, error) {
	p, err := homedir.Expand(viper.GetString("db.path"))
	if err != nil {
		return "", err
	}
	return utils.GetAbsDBPath(p)
}

// openDB opens the configured database, creating its directory if needed.
func openDB() (*storage.DB, string, error) {
	path, err := resolveDBPath()
	if err != nil {
		return nil, "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", fmt.Errorf("could not create database directory: %w", err)
	}
	db, err := storage.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("could not open database %s: %w", path, err)
	}
	utils.Log.Debugf("Using database %s", path)
	return db, path, nil
}

// withStore opens the database and runs fn with the lifecycle and catalog
// index built on top of it.
func withStore(fn func(db *storage.DB, lc *tasks.Lifecycle, ix *catalog.Index) error) error {
	db, _, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db, tasks.New(db, tasks.Config{Log: utils.Log}), catalog.New(db, utils.Log))
}

// siteFromConfig reads the observatory location, letting --lat/--lon
// override it when the command has them.
func siteFromConfig(cmd *cobra.Command) sky.Site {
	site := sky.Site{
		Name: viper.GetString("site.name"),
		Lat:  viper.GetFloat64("site.lat"),
		Lon:  viper.GetFloat64("site.lon"),
	}
	if f := cmd.Flags().Lookup("lat"); f != nil && f.Changed {
		site.Lat, _ = cmd.Flags().GetFloat64("lat")
	}
	if f := cmd.Flags().Lookup("lon"); f != nil && f.Changed {
		site.Lon, _ = cmd.Flags().GetFloat64("lon")
	}
	return site
}

// planDefaults builds a planner request from the configured thresholds.
func planDefaults(site sky.Site) planner.Request {
	req := planner.NewRequest(site, time.Time{})
	req.MinAlt = viper.GetFloat64("planner.min_altitude")
	req.SunAlt = viper.GetFloat64("planner.sun_altitude")
	if step := viper.GetInt("planner.step_minutes"); step > 0 {
		req.Step = time.Duration(step) * time.Minute
	}
	return req
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
