package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/apex/log"
	clihander "github.com/apex/log/handlers/cli"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	verbose    bool
	outputFile string
	output     io.Writer
)

func init() {
	log.SetHandler(clihander.Default)

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "V", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "write output to file instead of stdout")
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(methodsCmd)
	rootCmd.AddCommand(decompileCmd)
	rootCmd.AddCommand(privacyCmd)
	rootCmd.AddCommand(exportCmd)
}

func initConfig() {
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".config", "cilview"))
	}
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("cilview")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		log.WithField("config", viper.ConfigFileUsed()).Debug("loaded config file")
	}
}

var rootCmd = &cobra.Command{
	Use:   "cilview",
	Short: ".NET assembly method viewer and decompilation harness",
	Long: `cilview is a command-line tool for inspecting methods in .NET
(ECMA-335) assemblies.

It can list methods, scan IL bytecode, reconstruct variable tables,
resolve privacy attributes, and package decompilation results into
versioned binary artifacts.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetBool("verbose") {
			log.SetLevel(log.DebugLevel)
		}
		if out := viper.GetString("output"); out != "" {
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			output = f
		} else {
			output = os.Stdout
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if f, ok := output.(*os.File); ok && f != os.Stdout {
			f.Close()
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err.Error())
	}
}
