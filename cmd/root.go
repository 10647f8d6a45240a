package cmd

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/ValentinKolb/dMsg/cmd/perf"
	"github.com/ValentinKolb/dMsg/cmd/send"
	"github.com/ValentinKolb/dMsg/cmd/serve"
	"github.com/ValentinKolb/dMsg/cmd/util"
	"github.com/ValentinKolb/dMsg/rpc/common"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dmsg",
		Short: "peer to peer binary messaging",
		Long: fmt.Sprintf(`dMsg (v%s)

A peer to peer binary messaging engine written in Go: framed links over
tcp, unix sockets or quic with request correlation, subscriptions, raw
data chunks and a self scaling dispatch pool.

All flags can be set as environment variables with the prefix DMSG_
(e.g. DMSG_REQUEST_TIMEOUT=5s), also from .env and .env.local files.`, Version),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := util.BindCommandFlags(cmd); err != nil {
				return err
			}
			cfg, err := util.GetConfig(cmd)
			if err != nil {
				return err
			}
			return common.InitLoggers(cfg.LogLevel)
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dMsg",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dMsg v%s\n", Version)
		},
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		Long: `Print the configuration that results from the defaults, the optional --config
file, environment variables and flags. The output can be used as --config file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := util.GetConfig(cmd)
			if err != nil {
				return err
			}
			if human, _ := cmd.Flags().GetBool("human"); human {
				fmt.Print(cfg.String())
				return nil
			}
			return toml.NewEncoder(os.Stdout).Encode(cfg)
		},
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Flags
	util.SetupFlags(RootCmd)
	configCmd.Flags().Bool("human", false, util.WrapString("Print an aligned, human readable table instead of TOML"))

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(send.SendCmd)
	RootCmd.AddCommand(perf.PerfCmd)
	RootCmd.AddCommand(configCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
