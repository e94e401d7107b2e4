package version

import "fmt"

// Build metadata, set with -ldflags "-X ai-viability-watch/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// UserAgent identifies outbound requests made by the watcher.
func UserAgent(app string) string {
	if app == "" {
		app = "aiwatch"
	}
	return fmt.Sprintf("%s/%s", app, Version)
}
