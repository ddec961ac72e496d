package main

import (
	"fmt"

	"github.com/modtool/cil-go/cil"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info <assembly>",
	Short: "Display assembly information",
	Long:  `Display general information about a .NET assembly including name, version, runtime, and table statistics.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	asmPath := args[0]

	f, err := cil.Open(asmPath)
	if err != nil {
		return fmt.Errorf("failed to open assembly: %w", err)
	}
	defer f.Close()

	info, err := f.Info()
	if err != nil {
		return fmt.Errorf("failed to read assembly info: %w", err)
	}

	fmt.Fprintf(output, "Assembly: %s\n", asmPath)
	if info.AssemblyName != "" {
		fmt.Fprintf(output, "Name: %s\n", info.AssemblyName)
		fmt.Fprintf(output, "Version: %s\n", info.AssemblyVersion)
	}
	fmt.Fprintf(output, "Module: %s\n", info.ModuleName)
	fmt.Fprintf(output, "Runtime: %s\n", info.RuntimeVersion)
	if info.EntryPointToken != 0 {
		fmt.Fprintf(output, "Entry Point: 0x%08X\n", info.EntryPointToken)
	}
	fmt.Fprintf(output, "Types: %d\n", info.TypeCount)
	fmt.Fprintf(output, "Methods: %d\n", info.MethodCount)

	return nil
}
