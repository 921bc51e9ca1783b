package cmd

import (
	"fmt"

	"github.com/codetown/sm/internal/session"
)

// sessionLabel is how a session is named in CLI output: the friendly
// name when one is set, otherwise the pane name, always with the id.
func sessionLabel(s *session.Session) string {
	if s.FriendlyName != "" {
		return fmt.Sprintf("%s (%s)", s.FriendlyName, s.ID)
	}
	return fmt.Sprintf("%s (%s)", s.Name, s.ID)
}
