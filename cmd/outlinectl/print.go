package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"marginalia/api/internal/outline"
)

var (
	groupStyle    = color.New(color.Bold, color.Underline)
	idStyle       = color.New(color.Faint)
	typeStyle     = color.New(color.FgCyan)
	stageStyle    = color.New(color.FgHiYellow, color.Italic)
	archivedStyle = color.New(color.Faint, color.CrossedOut)
	emptyStyle    = color.New(color.Faint, color.Italic)
	okStyle       = color.New(color.FgGreen, color.Bold)
	failStyle     = color.New(color.FgRed, color.Bold)
)

// printTree renders the outline groups first, then items depth-first in
// sibling order.
func printTree(w io.Writer, ws outline.Workspace) {
	for i, g := range outline.BuildTree(ws) {
		if i > 0 {
			fmt.Fprintln(w)
		}
		_, _ = groupStyle.Fprint(w, g.Title)
		_, _ = idStyle.Fprintf(w, "  %s", g.ID)
		if g.Collapsed {
			_, _ = idStyle.Fprint(w, " (collapsed)")
		}
		fmt.Fprintln(w)
		if len(g.Items) == 0 {
			_, _ = emptyStyle.Fprintln(w, "  none")
			continue
		}
		printItems(w, g.Items, 1)
	}
}

func printItems(w io.Writer, nodes []outline.ItemNode, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, n := range nodes {
		line := color.New()
		if n.Status == outline.StatusArchived {
			line = archivedStyle
		}
		fmt.Fprint(w, indent+"- ")
		_, _ = typeStyle.Fprintf(w, "%-10s", n.Type)
		_, _ = line.Fprint(w, n.RefID)
		_, _ = stageStyle.Fprintf(w, " [%s]", n.Stage)
		if n.Status == outline.StatusArchived {
			_, _ = idStyle.Fprint(w, " archived")
		}
		_, _ = idStyle.Fprintf(w, "  %s\n", n.ID)
		printItems(w, n.Children, depth+1)
	}
}
