package main

import (
	"encoding/json"
	"fmt"

	"github.com/modtool/cil-go/cil"
	"github.com/modtool/cil-go/il"
	"github.com/spf13/cobra"
)

var (
	exportFormat string
)

var exportCmd = &cobra.Command{
	Use:   "export <artifact>",
	Short: "Dump an artifact container",
	Long: `Read a binary artifact container back and dump its contents in
structured format.

Supported formats:
  - text: Human-readable text (default)
  - json: JSON format`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "text", "output format (text, json)")
}

func runExport(cmd *cobra.Command, args []string) error {
	artifact, err := cil.ReadArtifactFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read artifact: %w", err)
	}

	switch exportFormat {
	case "json":
		return exportJSON(artifact)
	case "text":
		return exportText(artifact)
	default:
		return fmt.Errorf("unknown format: %s", exportFormat)
	}
}

type ArtifactDump struct {
	Token     string         `json:"token"`
	Name      string         `json:"name"`
	CreatedAt string         `json:"created_at"`
	Bytecode  int            `json:"bytecode_size"`
	SourceMap []SourceMapRow `json:"source_map"`
	Variables []VariableRow  `json:"variables"`
}

type SourceMapRow struct {
	Line      int32  `json:"line"`
	Offset    int32  `json:"il_offset"`
	InstCount uint16 `json:"inst_count"`
}

type VariableRow struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	IsLocal bool   `json:"is_local"`
	Index   int32  `json:"index"`
}

func exportJSON(a *cil.MethodArtifact) error {
	dump := &ArtifactDump{
		Token:     fmt.Sprintf("0x%08X", a.Token),
		Name:      a.Name,
		CreatedAt: a.CreatedAt.Format("2006-01-02T15:04:05.0000000Z"),
		Bytecode:  len(a.Bytecode),
	}

	dump.SourceMap = make([]SourceMapRow, len(a.SourceMap))
	for i, e := range a.SourceMap {
		dump.SourceMap[i] = SourceMapRow{Line: e.Line, Offset: e.Offset, InstCount: e.InstCount}
	}

	dump.Variables = make([]VariableRow, len(a.Variables))
	for i, v := range a.Variables {
		dump.Variables[i] = VariableRow{Name: v.Name, Type: v.Type, IsLocal: v.IsLocal, Index: v.Index}
	}

	encoder := json.NewEncoder(output)
	encoder.SetIndent("", "  ")
	return encoder.Encode(dump)
}

func exportText(a *cil.MethodArtifact) error {
	fmt.Fprintf(output, "Token: 0x%08X\n", a.Token)
	fmt.Fprintf(output, "Name: %s\n", a.Name)
	fmt.Fprintf(output, "Created: %s\n", a.CreatedAt.Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(output, "Bytecode: %d bytes\n", len(a.Bytecode))

	if len(a.SourceMap) > 0 {
		fmt.Fprintln(output)
		fmt.Fprintln(output, "Source Map:")
		for _, e := range a.SourceMap {
			fmt.Fprintf(output, "  line %d -> IL_%04X (%d inst)\n", e.Line, e.Offset, e.InstCount)
		}
	}

	if len(a.Variables) > 0 {
		fmt.Fprintln(output)
		fmt.Fprintln(output, "Variables:")
		for _, v := range a.Variables {
			kind := "field"
			if v.IsLocal {
				kind = "local"
			}
			fmt.Fprintf(output, "  [%s %d] %s %s\n", kind, v.Index, v.Type, v.Name)
		}
	}

	if verbose {
		fmt.Fprintln(output)
		fmt.Fprintln(output, "Instructions:")
		for _, inst := range il.Decode(a.Bytecode) {
			fmt.Fprintf(output, "  IL_%04X: %s\n", inst.Offset, inst.Op.Name)
		}
	}

	return nil
}
