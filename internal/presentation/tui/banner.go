package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

var bannerLines = []struct {
	text  string
	color string
}{
	{"  _                 _      _ _ ", "#34d399"},
	{" | |_ ___ _ __   __| |_ __(_) |", "#2dd4bf"},
	{" | __/ _ \\ '_ \\ / _` | '__| | |", "#22d3ee"},
	{" | ||  __/ | | | (_| | |  | | |", "#38bdf8"},
	{"  \\__\\___|_| |_|\\__,_|_|  |_|_|", "#60a5fa"},
}

// PrintBanner writes the banner and version to w in the colors w supports.
func PrintBanner(w io.Writer, version string) {
	out := termenv.NewOutput(w)
	fmt.Fprintln(w)
	for _, l := range bannerLines {
		fmt.Fprintln(w, out.String(l.text).Foreground(out.Color(l.color)))
	}
	fmt.Fprintln(w, out.String("  "+version).Faint())
	fmt.Fprintln(w)
}
