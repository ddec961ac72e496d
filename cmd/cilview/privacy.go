package main

import (
	"fmt"

	"github.com/modtool/cil-go/cil"
	"github.com/spf13/cobra"
)

var privacyCmd = &cobra.Command{
	Use:   "privacy <assembly> <token>",
	Short: "Resolve the privacy policy of a method",
	Long: `Resolve the effective privacy policy of a method by checking its
privacy attributes at the method, type, and assembly level, in that
order of precedence.`,
	Args: cobra.ExactArgs(2),
	RunE: runPrivacy,
}

func runPrivacy(cmd *cobra.Command, args []string) error {
	token, err := parseToken(args[1])
	if err != nil {
		return err
	}

	f, err := cil.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open assembly: %w", err)
	}
	defer f.Close()

	res, err := f.CheckPrivacy(token)
	if err != nil {
		return fmt.Errorf("failed to check privacy: %w", err)
	}

	fmt.Fprintf(output, "Method: %s\n", res.MethodSignature)
	fmt.Fprintf(output, "Level: %s\n", res.Level)
	if res.Reason != "" {
		fmt.Fprintf(output, "Reason: %s\n", res.Reason)
	}

	return nil
}
