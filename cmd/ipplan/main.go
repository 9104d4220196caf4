package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/metal-stack/v"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ipam-tools/ipplan/cmd/ipplan/internal/engine"
	"github.com/ipam-tools/ipplan/cmd/ipplan/internal/plan"
	"github.com/ipam-tools/ipplan/cmd/ipplan/internal/report"
)

const cfgFileType = "yaml"

var (
	cfgFile string
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:     "ipplan <definitions.yaml>",
	Short:   "a declarative ip/vlan address-plan generator",
	Version: v.V.String(),
	Args:    cobra.ExactArgs(1),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogging()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(args[0])
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if logger == nil {
			fmt.Fprintln(os.Stderr, err)
		} else {
			logger.Error("failed", "error", err)
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "alternative path to config file")
	rootCmd.Flags().StringP("log-level", "", "info", "the application log level (debug, info, warn or error)")
	rootCmd.Flags().StringP("log-formatter", "", "text", "the application log formatter (text or json)")

	rootCmd.Flags().StringP("output-format", "o", "human", fmt.Sprintf("the format of the output (%s)", strings.Join(report.Formats, ", ")))
	rootCmd.Flags().StringP("previous-plan", "p", "", "the plan of a previous run in json format, all of its assignments are preserved")

	must(viper.BindPFlags(rootCmd.Flags()))
}

func initConfig() {
	viper.SetEnvPrefix("IPPLAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	viper.SetConfigType(cfgFileType)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "config file path set explicitly, but unreadable: %v\n", err)
			os.Exit(1)
		}
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath("/etc/ipplan")
		viper.AddConfigPath("$HOME/.ipplan")
		viper.AddConfigPath(".")
		if err := viper.ReadInConfig(); err != nil {
			usedCfg := viper.ConfigFileUsed()
			if usedCfg != "" {
				fmt.Fprintf(os.Stderr, "config file %s unreadable: %v\n", usedCfg, err)
				os.Exit(1)
			}
		}
	}
}

func initLogging() {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		fmt.Fprintf(os.Stderr, "unknown log level: %v\n", err)
		os.Exit(1)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch viper.GetString("log-formatter") {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		fmt.Fprintf(os.Stderr, "unknown log formatter: %q\n", viper.GetString("log-formatter"))
		os.Exit(1)
	}
	logger = slog.New(handler)
}

func run(inputFile string) error {
	input, err := os.ReadFile(inputFile)
	if err != nil {
		return err
	}
	def, err := plan.ParseDefinition(input)
	if err != nil {
		return err
	}

	var previous *plan.Plan
	if path := viper.GetString("previous-plan"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		previous, err = plan.ParsePlan(data)
		if err != nil {
			return err
		}
		logger.Info("running incrementally", "previous-plan", path, "preserved-slots", previous.SlotCount())
	}

	a, err := engine.New(&engine.Config{
		Log:        logger,
		Definition: def,
		Previous:   previous,
	})
	if err != nil {
		return err
	}
	p, err := a.Run()
	if err != nil {
		return err
	}
	logger.Debug("allocation complete", "sections", len(p.Sections), "slots", p.SlotCount())

	out, err := report.Render(p, viper.GetString("output-format"))
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
