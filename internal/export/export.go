package export

import (
	"fmt"
	"io"

	"github.com/samer-khoury/mizan/models"
)

// Exporter writes one consultation session in a concrete format.
type Exporter interface {
	Export(sess *models.Session, w io.Writer) error
	Extension() string
}

// NewExporter creates an exporter for the named format.
func NewExporter(format string) (Exporter, error) {
	switch format {
	case "json":
		return &JSONExporter{}, nil
	case "md", "markdown":
		return &MarkdownExporter{}, nil
	case "yaml":
		return &YAMLExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: json, md, yaml)", format)
	}
}
