// Package banner renders the CLI startup banner.
package banner

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	versionStyle = lipgloss.NewStyle().Faint(true)
	boxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#705090")).
			Padding(0, 2)
)

// Banner returns the banner shown on stderr, ending in a newline.
func Banner(version string) string {
	title := titleStyle.Render("tagger")
	sub := versionStyle.Render(fmt.Sprintf("query entity recognition  %s", version))
	return boxStyle.Render(title+"\n"+sub) + "\n"
}
