package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/flowmux/internal/pipeline"
)

var probeCmd = &cobra.Command{
	Use:   "probe <input>",
	Short: "Inspect an input file without transcoding",
	Long: `Probe an input file and report its container streams.

Compressed inputs (gzip, bzip2, xz, brotli) are detected and decompressed
transparently, the same way the run command reads them.`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().Bool("json", false, "Emit the probe result as JSON")
}

func runProbe(cmd *cobra.Command, args []string) error {
	result, err := pipeline.Probe(args[0], slog.Default())
	if err != nil {
		return fmt.Errorf("probing %s: %w", args[0], err)
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Printf("Input: %s\n", args[0])
	if result.Compression != "" {
		fmt.Printf("Compression: %s\n", result.Compression)
	}
	fmt.Printf("Streams: %d\n", len(result.Streams))
	for _, s := range result.Streams {
		fmt.Printf("  %s\n", s.String())
	}
	return nil
}
