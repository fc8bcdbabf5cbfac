package export

import (
	"fmt"
	"io"
	"time"

	"github.com/samer-khoury/mizan/models"
)

// MarkdownExporter writes a human-readable transcript of the session.
type MarkdownExporter struct{}

func (e *MarkdownExporter) Export(sess *models.Session, w io.Writer) error {
	_, _ = fmt.Fprintf(w, "# %s\n\n", sess.Title)
	_, _ = fmt.Fprintf(w, "**Session:** %s  \n", sess.ID)
	_, _ = fmt.Fprintf(w, "**Created:** %s  \n", sess.CreatedAt.Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "**Messages:** %d\n\n", len(sess.Messages))
	_, _ = fmt.Fprintf(w, "---\n\n")

	for i := range sess.Messages {
		msg := &sess.Messages[i]
		speaker := "Assistant"
		if msg.Role == models.RoleUser {
			speaker = "Client"
		}
		stamp := time.UnixMilli(msg.TS).UTC().Format(time.RFC3339)
		_, _ = fmt.Fprintf(w, "**%s** (%s):\n\n%s\n\n", speaker, stamp, msg.Content)

		if msg.ResearchData != nil {
			writeBrief(w, msg.ResearchData)
		}
		for _, src := range msg.Sources {
			title := src.Title
			if title == "" {
				title = src.URI
			}
			_, _ = fmt.Fprintf(w, "- [%s](%s)\n", title, src.URI)
		}
		if len(msg.Sources) > 0 {
			_, _ = fmt.Fprintln(w)
		}
		if i < len(sess.Messages)-1 {
			_, _ = fmt.Fprintf(w, "---\n\n")
		}
	}
	return nil
}

func writeBrief(w io.Writer, b *models.ResearchBundle) {
	_, _ = fmt.Fprintf(w, "> **Research brief** (%s, verified %s)\n", b.Forum, b.LastVerifiedOn)
	for _, p := range b.Points {
		cite := ""
		if p.Cite != "" {
			cite = " — " + p.Cite
		}
		_, _ = fmt.Fprintf(w, "> - *%s*: %s%s\n", p.Label, p.Proposition, cite)
	}
	_, _ = fmt.Fprintln(w)
}

func (e *MarkdownExporter) Extension() string { return "md" }
