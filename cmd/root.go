// Copyright © 2024 The zs-debug-adapter authors

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "zs-debug-adapter",
	Short: "Debug adapter for ZenScript",
	Long: `zs-debug-adapter connects an editor speaking the Debug Adapter Protocol
to a running game that loads ZenScript scripts. It attaches to the game's
runtime debug port and maps breakpoints, threads, stack frames and variables
between the two.

Getting started:
  zs-debug-adapter serve               Listen for editors on TCP port 9866
  zs-debug-adapter serve --stdio       Speak DAP on stdin/stdout

Configuration is read from $HOME/.zsdap.yaml and from ZSDAP_* environment
variables, for example ZSDAP_LOG_LEVEL=debug.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.zsdap.yaml)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		// Search config in home directory with name ".zsdap" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".zsdap")
	}

	viper.SetEnvPrefix("zsdap")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// A missing config file is fine. Anything else is reported, on stderr
	// so that stdio mode keeps stdout for the protocol.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintln(os.Stderr, "Failed to read config:", err)
		}
	} else {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
