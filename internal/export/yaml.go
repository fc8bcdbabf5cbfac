package export

import (
	"io"

	"gopkg.in/yaml.v3"

	"github.com/samer-khoury/mizan/models"
)

// YAMLExporter writes the session as a YAML document.
type YAMLExporter struct{}

func (e *YAMLExporter) Export(sess *models.Session, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	defer func() { _ = enc.Close() }()
	return enc.Encode(sess)
}

func (e *YAMLExporter) Extension() string { return "yaml" }
