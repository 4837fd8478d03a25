package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hevelius/hevelius/internal/utils"
	"github.com/hevelius/hevelius/pkg/catalog"
	"github.com/hevelius/hevelius/pkg/catalogsrc"
	"github.com/hevelius/hevelius/pkg/report"
	"github.com/hevelius/hevelius/pkg/sky"
	"github.com/hevelius/hevelius/pkg/storage"
	"github.com/hevelius/hevelius/pkg/tasks"
	"github.com/hevelius/hevelius/pkg/whttp"
)

// catalogCmd represents the catalog command
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Search and maintain astronomical catalogs",
}

var catalogSearchCmd = &cobra.Command{
	Use:   "search",
	Short: "Find catalog objects and captured frames around an object or a position",
	Example: `  hevelius catalog search --object M1
  hevelius catalog search --ra "05 34 31" --decl "+22 00 52" --proximity 2 --catalog NGC
  hevelius catalog search --object M31 --format pixinsight > m31.js`,
	RunE: func(cmd *cobra.Command, args []string) error {
		object, _ := cmd.Flags().GetString("object")
		raStr, _ := cmd.Flags().GetString("ra")
		decStr, _ := cmd.Flags().GetString("decl")
		radius, _ := cmd.Flags().GetFloat64("proximity")
		formatStr, _ := cmd.Flags().GetString("format")
		catalogs, _ := cmd.Flags().GetStringSlice("catalog")

		format, err := report.ParseFormat(formatStr)
		if err != nil {
			return err
		}
		if object == "" && (raStr == "" || decStr == "") {
			return errors.New("either --object or both --ra and --decl are required")
		}

		return withStore(func(db *storage.DB, _ *tasks.Lifecycle, ix *catalog.Index) error {
			ctx := commandContext(cmd)
			var center sky.Point
			if object != "" {
				obj, err := ix.Resolve(ctx, object)
				if err != nil {
					return err
				}
				center = sky.Point{RA: obj.RA, Dec: obj.Dec}
				if !format.Machine() {
					fmt.Printf("%s/%s: RA %s DEC %s\n", obj.Catalog, obj.Name, sky.FormatRA(obj.RA), sky.FormatDec(obj.Dec))
				}
			} else {
				if center.RA, err = sky.ParseRA(raStr); err != nil {
					return err
				}
				if center.Dec, err = sky.ParseDec(decStr); err != nil {
					return err
				}
			}

			if !format.Machine() {
				matches, err := ix.Search(ctx, center, radius, catalogs...)
				if err != nil {
					return err
				}
				fmt.Printf("Objects within %.2f deg of RA %s DEC %s: %d\n", radius, sky.FormatRA(center.RA), sky.FormatDec(center.Dec), len(matches))
				if err := report.WriteObjects(os.Stdout, matches); err != nil {
					return err
				}
			}
			if format == report.FormatNone {
				return nil
			}

			frames, err := ix.FramesNear(ctx, center, radius)
			if err != nil {
				return err
			}
			if !format.Machine() {
				fmt.Printf("\nFrames: %d\n", len(frames))
			}
			return report.WriteFrames(os.Stdout, frames, format)
		})
	},
}

var catalogLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load or refresh a catalog from the built-in set, a file or a URL",
	Long: `Load or refresh a catalog. Objects are matched by name within the tag:
existing ones are updated, new ones added and those missing from the source removed.`,
	Example: `  hevelius catalog load --builtin messier
  hevelius catalog load --tag NGC --file ngc.csv
  hevelius catalog load --tag C --url https://example.org/caldwell.html --table 1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, _ := cmd.Flags().GetString("tag")
		builtin, _ := cmd.Flags().GetString("builtin")
		file, _ := cmd.Flags().GetString("file")
		url, _ := cmd.Flags().GetString("url")

		sources := 0
		for _, s := range []string{builtin, file, url} {
			if s != "" {
				sources++
			}
		}
		if sources != 1 {
			return errors.New("exactly one of --builtin, --file or --url is required")
		}

		opts, err := sourceOptions(cmd)
		if err != nil {
			return err
		}

		var objs []storage.CatalogObject
		switch {
		case builtin != "":
			var builtinTag string
			if builtinTag, objs, err = catalog.Builtin(builtin); err != nil {
				return err
			}
			if tag == "" {
				tag = builtinTag
			}
		case file != "":
			objs, err = catalogsrc.LoadFile(file, opts)
		default:
			objs, err = fetchCatalog(cmd, url, opts)
		}
		if err != nil {
			return err
		}
		if tag == "" {
			return errors.New("--tag is required for --file and --url sources")
		}
		utils.Log.Infof("Parsed %d objects for catalog %s", len(objs), tag)

		path, err := resolveDBPath()
		if err != nil {
			return err
		}
		return utils.WithLock(path, func() error {
			return withStore(func(db *storage.DB, _ *tasks.Lifecycle, _ *catalog.Index) error {
				res, err := db.LoadCatalog(commandContext(cmd), tag, objs)
				if err != nil {
					return err
				}
				fmt.Printf("Catalog %s: %d added, %d updated, %d removed\n", res.Catalog, res.Added, res.Updated, res.Removed)
				return nil
			})
		})
	},
}

func sourceOptions(cmd *cobra.Command) (catalogsrc.Options, error) {
	formatStr, _ := cmd.Flags().GetString("format")
	raUnit, _ := cmd.Flags().GetString("ra-unit")
	jsonPath, _ := cmd.Flags().GetString("json-path")
	table, _ := cmd.Flags().GetInt("table")
	comma, _ := cmd.Flags().GetString("comma")

	format, err := catalogsrc.ParseFormat(formatStr)
	if err != nil {
		return catalogsrc.Options{}, err
	}
	opts := catalogsrc.Options{Format: format, JSONPath: jsonPath, Table: table}
	switch catalogsrc.RAUnit(raUnit) {
	case catalogsrc.RAHours, catalogsrc.RADegrees:
		opts.RAUnit = catalogsrc.RAUnit(raUnit)
	case "":
	default:
		return opts, fmt.Errorf("unsupported --ra-unit %q, allowed are: hours, deg", raUnit)
	}
	if comma != "" {
		if comma == `\t` || comma == "tab" {
			comma = "\t"
		}
		opts.Comma = []rune(comma)[0]
	}
	return opts, nil
}

func fetchCatalog(cmd *cobra.Command, url string, opts catalogsrc.Options) ([]storage.CatalogObject, error) {
	proxy, _ := cmd.Flags().GetString("proxy")
	client, err := whttp.NewClient(viper.GetInt("catalogs.retries"), viper.GetDuration("catalogs.timeout"), proxy)
	if err != nil {
		return nil, err
	}
	utils.Log.Infof("Downloading %s", url)
	return catalogsrc.NewFetcher(client).Fetch(commandContext(cmd), url, opts)
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded catalogs, or the objects of one with --catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, _ := cmd.Flags().GetString("catalog")
		constellation, _ := cmd.Flags().GetString("const")
		name, _ := cmd.Flags().GetString("name")
		limit, _ := cmd.Flags().GetInt("limit")

		return withStore(func(db *storage.DB, _ *tasks.Lifecycle, ix *catalog.Index) error {
			ctx := commandContext(cmd)
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			defer w.Flush()

			if tag == "" && constellation == "" && name == "" {
				cats, err := ix.Catalogs(ctx)
				if err != nil {
					return err
				}
				if len(cats) == 0 {
					fmt.Println("No catalogs loaded. Try: hevelius catalog load --builtin messier")
					return nil
				}
				fmt.Fprintln(w, "CATALOG\tOBJECTS\t")
				for _, c := range cats {
					fmt.Fprintf(w, "%s\t%d\t\n", c.Catalog, c.Objects)
				}
				return nil
			}

			objs, err := ix.List(ctx, storage.ObjectFilter{Catalog: tag, Constellation: constellation, Name: name, Limit: limit})
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "CATALOG\tNAME\tALTNAME\tRA\tDEC\tMAG\tTYPE\tCONST\t")
			for _, o := range objs {
				mag := "-"
				if o.Magnitude != nil {
					mag = fmt.Sprintf("%.1f", *o.Magnitude)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n", o.Catalog, o.Name, o.AltName, sky.FormatRA(o.RA), sky.FormatDec(o.Dec), mag, o.Type, o.Constellation)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogSearchCmd)
	catalogCmd.AddCommand(catalogLoadCmd)
	catalogCmd.AddCommand(catalogListCmd)

	catalogSearchCmd.Flags().StringP("object", "o", "", "Search around this object (e.g. M1, NGC 7000)")
	catalogSearchCmd.Flags().String("ra", "", "Right ascension of the search center (hours, or degrees with a 'd' suffix)")
	catalogSearchCmd.Flags().String("decl", "", "Declination of the search center in degrees")
	catalogSearchCmd.Flags().Float64P("proximity", "p", 0.5, "Search radius in degrees")
	catalogSearchCmd.Flags().StringP("format", "f", "none", "Frame output: none, filenames, csv, brief, full, pixinsight")
	catalogSearchCmd.Flags().StringSlice("catalog", nil, "Only return objects from these catalog tags")

	catalogLoadCmd.Flags().String("tag", "", "Catalog tag the objects are stored under (e.g. M, NGC)")
	catalogLoadCmd.Flags().String("builtin", "", "Load a catalog shipped with hevelius (messier)")
	catalogLoadCmd.Flags().String("file", "", "Load a local CSV, TSV, JSON or HTML file")
	catalogLoadCmd.Flags().String("url", "", "Download the catalog from this URL")
	catalogLoadCmd.Flags().String("format", "", "Source format: csv, json, html (default: guessed)")
	catalogLoadCmd.Flags().String("ra-unit", "", "Unit of bare numeric RA values: hours (default for csv) or deg")
	catalogLoadCmd.Flags().String("json-path", "", "gjson path to the record array in JSON sources")
	catalogLoadCmd.Flags().Int("table", 0, "Index of the HTML table to read")
	catalogLoadCmd.Flags().String("comma", "", `CSV field separator (use "tab" for TSV)`)

	catalogListCmd.Flags().String("catalog", "", "List objects of this catalog tag")
	catalogListCmd.Flags().String("const", "", "Only objects in this constellation")
	catalogListCmd.Flags().String("name", "", "Only objects whose name contains this text")
	catalogListCmd.Flags().Int("limit", 0, "Maximum number of objects to list (0 = all)")
}
