package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kektech/kektech/internal/output"
)

// commandOutput is where and how a command writes its result. It is resolved
// before any work is done so bad flags fail fast.
type commandOutput struct {
	format output.Format
	// path is empty for stdout.
	path   string
	stdout io.Writer
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json|yaml|markdown")
	cmd.Flags().String("out", "", "Write output to a file (default stdout)")
	cmd.Flags().String("out-dir", "", "Write output to a directory as <name>.<ext>")
}

// resolveCommandOutput reads the output flags of cmd. With --out-dir the file
// is named after base and the format's extension.
func resolveCommandOutput(cmd *cobra.Command, base string) (commandOutput, error) {
	flags := cmd.Flags()
	rawFormat, _ := flags.GetString("output-format")
	outPath, _ := flags.GetString("out")
	outDir, _ := flags.GetString("out-dir")

	format, err := output.ParseFormat(rawFormat)
	if err != nil {
		return commandOutput{}, err
	}

	outPath, outDir = strings.TrimSpace(outPath), strings.TrimSpace(outDir)
	switch {
	case outPath != "" && outDir != "":
		return commandOutput{}, errors.New("--out and --out-dir are mutually exclusive")
	case outPath == "-":
		outPath = ""
	case outDir != "":
		outPath = filepath.Join(outDir, sanitizeFilename(base)+"."+format.Extension())
	}

	return commandOutput{format: format, path: outPath, stdout: cmd.OutOrStdout()}, nil
}

// write emits rendered followed by a single newline.
func (o commandOutput) write(rendered string) (err error) {
	line := strings.TrimRight(rendered, "\n") + "\n"
	if o.path == "" {
		w := o.stdout
		if w == nil {
			w = os.Stdout
		}
		_, err = io.WriteString(w, line)
		return err
	}

	if err := os.MkdirAll(filepath.Dir(o.path), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.Create(o.path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = io.WriteString(file, line)
	return err
}

var nonFilename = regexp.MustCompile(`[^a-z0-9._-]+`)

func sanitizeFilename(value string) string {
	clean := strings.ToLower(strings.TrimSpace(value))
	clean = nonFilename.ReplaceAllString(clean, "-")
	clean = strings.Trim(clean, "-.")
	if clean == "" {
		return "output"
	}
	return clean
}
