package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version info (set by build)
	Version = "dev"

	// Global flags
	cfgFile    string
	baseURL    string
	outputJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "diskctl",
	Short: "DarkDiskz command-line interface",
	Long: `diskctl talks to the darkdiskzd API.

It lists disks and arrays, reads SMART health, and drives the
plan/confirm/apply flow for destructive storage operations.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/darkdiskz/cli.yaml)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", "", "darkdiskzd API URL")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	_ = viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.AddCommand(
		newStatusCmd(),
		newDisksCmd(),
		newRaidCmd(),
		newBcacheCmd(),
		newSmartCmd(),
		newPlanCmd(),
		newApplyCmd(),
		newTxCmd(),
		newVersionCmd(),
	)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home + "/.config/darkdiskz")
			viper.SetConfigName("cli")
			viper.SetConfigType("yaml")
		}
	}
	viper.SetEnvPrefix("DARKDISKZ")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	if baseURL == "" {
		baseURL = viper.GetString("url")
	}
	if baseURL == "" {
		baseURL = "http://127.0.0.1:9400"
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
