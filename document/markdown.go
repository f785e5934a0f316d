package document

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// WriteMarkdown renders the document as markdown: one section per picture
// with its description, or the reason it has none.
func (d *Document) WriteMarkdown(w io.Writer) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n", d.Source)
	for _, p := range d.Pictures {
		sb.WriteString("\n")
		fmt.Fprintf(&sb, "## Picture %d: %s\n", p.Index, p.Name)
		if p.Page > 0 {
			fmt.Fprintf(&sb, "\n_page %d, %dx%d_\n", p.Page, p.Width, p.Height)
		}
		switch {
		case len(p.Annotations) > 0:
			for _, a := range p.Annotations {
				sb.WriteString("\n")
				sb.WriteString(a.Text)
				sb.WriteString("\n")
				if a.TokenUsage != nil {
					usage, err := json.Marshal(a.TokenUsage)
					if err != nil {
						return err
					}
					fmt.Fprintf(&sb, "\n<!-- token_usage: %s -->\n", usage)
				}
			}
		case p.Err != nil:
			fmt.Fprintf(&sb, "\n<!-- description failed: %s -->\n", p.Err)
		default:
			sb.WriteString("\n<!-- no annotations -->\n")
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
