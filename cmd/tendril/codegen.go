package main

import (
	"fmt"
	"io"
	"os"

	"github.com/aretw0/tendril"
	"github.com/spf13/cobra"
)

var codegenCmd = &cobra.Command{
	Use:   "codegen",
	Short: "Generate TypeScript bindings or an OpenAPI document",
	Long: `Writes the client artefact for the demo operations to stdout, to a file
(--out), or to the configured manifest store (--publish).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, _, err := setup(cmd)
		if err != nil {
			return err
		}

		if publish, _ := cmd.Flags().GetBool("publish"); publish {
			return srv.Publish(cmd.Context())
		}

		format, _ := cmd.Flags().GetString("format")
		var data []byte
		switch format {
		case "ts", "typescript":
			data = srv.Manifest().TypeScript()
		case "openapi":
			if data, err = srv.Manifest().OpenAPIJSON(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown format %q, supported: ts, openapi", format)
		}

		out, _ := cmd.Flags().GetString("out")
		return write(cmd.OutOrStdout(), out, data)
	},
}

func write(stdout io.Writer, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(codegenCmd)
	codegenCmd.Flags().StringP("format", "f", "ts", "Artefact: ts or openapi")
	codegenCmd.Flags().StringP("out", "o", "", "Output file (default stdout)")
	codegenCmd.Flags().Bool("publish", false, "Save "+tendril.TypeScriptArtifact+" and "+tendril.OpenAPIArtifact+" to the manifest store")
}
