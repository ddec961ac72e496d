package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/modtool/cil-go/cil"
	"github.com/modtool/cil-go/il"
	"github.com/spf13/cobra"
)

var (
	artifactPath string
	mapPath      string
)

var decompileCmd = &cobra.Command{
	Use:   "decompile <assembly> <token>",
	Short: "Analyze a method and write its artifact container",
	Long: `Analyze a single method: scan its IL bytecode, reconstruct its
variable table, resolve its privacy attributes, and package the result
into a binary artifact container plus a plain text line map.

The token is a metadata token, e.g. 0x06000001.`,
	Args: cobra.ExactArgs(2),
	RunE: runDecompile,
}

func init() {
	decompileCmd.Flags().StringVarP(&artifactPath, "artifact", "a", "", "artifact file path (default <token>.modt)")
	decompileCmd.Flags().StringVarP(&mapPath, "map", "m", "", "text line map path (default none)")
}

func parseToken(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid token: %s", s)
	}
	return uint32(v), nil
}

func runDecompile(cmd *cobra.Command, args []string) error {
	token, err := parseToken(args[1])
	if err != nil {
		return err
	}

	f, err := cil.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open assembly: %w", err)
	}
	defer f.Close()

	artifact, err := f.DecompileMethod(token, cil.NopDecompiler{})
	if err != nil {
		return fmt.Errorf("failed to analyze method: %w", err)
	}

	fmt.Fprintf(output, "Method: %s\n", artifact.Signature)
	fmt.Fprintf(output, "Privacy: %s\n", artifact.Privacy.Level)
	if artifact.Privacy.Reason != "" {
		fmt.Fprintf(output, "Reason: %s\n", artifact.Privacy.Reason)
	}
	fmt.Fprintf(output, "Bytecode: %d bytes\n", len(artifact.Bytecode))
	fmt.Fprintf(output, "Variables: %d\n", len(artifact.Variables))
	fmt.Fprintf(output, "Map Entries: %d\n", len(artifact.SourceMap))

	if verbose {
		for _, inst := range il.Decode(artifact.Bytecode) {
			fmt.Fprintf(output, "  IL_%04X: %s\n", inst.Offset, inst.Op.Name)
		}
	}

	out := artifactPath
	if out == "" {
		out = fmt.Sprintf("0x%08X.modt", token)
	}
	if err := cil.WriteArtifactFile(out, artifact); err != nil {
		return err
	}
	log.WithField("path", out).Info("wrote artifact")

	if mapPath != "" {
		if err := writeTextFile(mapPath, cil.EncodeTextMap(artifact)); err != nil {
			return err
		}
		log.WithField("path", mapPath).Info("wrote line map")
	}

	return nil
}

func writeTextFile(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
