// Package pdf provides a plain dagflow Task that extracts text from a PDF
// file, using github.com/ledongthuc/pdf (pure Go, no CGO).
package pdf

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/flowforge/dagflow"
)

// New builds a plain Task named name that reads a "path" key from its
// input, extracts the PDF's text, and returns it under the "text" output
// key.
func New(name string) *dagflow.Task {
	return dagflow.NewTask(name, func(ctx context.Context, input map[string]any) (map[string]any, error) {
		path, _ := input["path"].(string)
		if path == "" {
			return nil, fmt.Errorf("pdf: missing %q input", "path")
		}

		f, r, err := pdf.Open(path)
		if err != nil {
			return nil, fmt.Errorf("pdf: open %s: %w", path, err)
		}
		defer f.Close()

		reader, err := r.GetPlainText()
		if err != nil {
			return nil, fmt.Errorf("pdf: extract text: %w", err)
		}
		text, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("pdf: read text: %w", err)
		}

		return map[string]any{
			"text":  strings.TrimSpace(string(text)),
			"pages": r.NumPage(),
			"path":  path,
		}, nil
	})
}
