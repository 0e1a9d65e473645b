package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"lectern-backend/internal/audio"
	"lectern-backend/internal/normalize"
	"lectern-backend/internal/services"
)

// readInput reads path, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func normalizeCmd() *cobra.Command {
	var sanitizeOnly bool
	cmd := &cobra.Command{
		Use:   "normalize <file|->",
		Short: "Run a raw model response through the normalization pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			if sanitizeOnly {
				fmt.Fprintln(cmd.OutOrStdout(), normalize.Sanitize(string(raw)))
				return nil
			}

			v, err := normalize.Parse(string(raw))
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&sanitizeOnly, "sanitize-only", false, "Only strip fences and repair, do not decode")
	return cmd
}

func wavCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "wav <base64-pcm-file|->",
		Short: "Wrap base64 PCM16 narration in a WAV container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			pcm, err := audio.DecodeBase64PCM(strings.TrimSpace(string(raw)))
			if err != nil {
				return err
			}
			wav, err := audio.EncodeWAV(pcm)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, wav, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%.1fs)\n", out, audio.Narration.Duration(pcm))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "narration.wav", "Output file")
	return cmd
}

func extractCmd() *cobra.Command {
	var maxChars int
	cmd := &cobra.Command{
		Use:   "extract <file>",
		Short: "Print the text extracted from a .txt, .pdf or .docx file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			text, err := services.NewFileExtractService(maxChars).ExtractText(args[0], data)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxChars, "max-chars", 0, "Truncate to this many characters (0 for no limit)")
	return cmd
}
