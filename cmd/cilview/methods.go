package main

import (
	"fmt"
	"strings"

	"github.com/modtool/cil-go/cil"
	"github.com/spf13/cobra"
)

var (
	methodsFilter string
	methodsLimit  int
)

var methodsCmd = &cobra.Command{
	Use:   "methods <assembly>",
	Short: "List method definitions",
	Long:  `List all method definitions in an assembly with their tokens and signatures.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runMethods,
}

func init() {
	methodsCmd.Flags().StringVarP(&methodsFilter, "filter", "f", "", "only show methods whose name contains this substring")
	methodsCmd.Flags().IntVarP(&methodsLimit, "limit", "l", 0, "limit number of methods shown (0 = all)")
}

func runMethods(cmd *cobra.Command, args []string) error {
	f, err := cil.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open assembly: %w", err)
	}
	defer f.Close()

	shown := 0
	for m := range f.Methods() {
		if methodsFilter != "" && !strings.Contains(m.Name, methodsFilter) {
			continue
		}

		body := " "
		if !m.HasBody {
			body = "-"
		}
		fmt.Fprintf(output, "0x%08X %s %s\n", m.Token, body, m.Signature)

		shown++
		if methodsLimit > 0 && shown >= methodsLimit {
			break
		}
	}

	fmt.Fprintf(output, "\n%d method(s)\n", shown)
	return nil
}
