package export

import (
	"encoding/json"
	"io"

	"github.com/samer-khoury/mizan/models"
)

// JSONExporter writes the session as pretty-printed JSON.
type JSONExporter struct{}

func (e *JSONExporter) Export(sess *models.Session, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sess)
}

func (e *JSONExporter) Extension() string { return "json" }
