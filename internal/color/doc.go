// Package color holds the terminal palette and the lipgloss styles used by
// projectctl's human-readable output.
//
// Colors are adaptive: each has a light and a dark variant and lipgloss
// picks one from the detected background. Initialize overrides the
// detection. NO_COLOR and non-terminal outputs render plain text because
// lipgloss downgrades the profile itself.
//
//	color.Initialize(true)
//	fmt.Println(color.ForStatus("running").Render("running"))
package color
