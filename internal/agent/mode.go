package agent

import "github.com/nugget/butler/internal/tools"

// Mode holds the session flags tool calls can change. The controller
// reads it after every turn.
type Mode struct {
	ExitRequested  bool
	ResetRequested bool
	Private        bool
	ActiveModel    string
}

// Apply changes m according to cmd. CommandHighPower switches the
// active model to highPowerModel when one is configured.
func (m *Mode) Apply(cmd tools.Command, highPowerModel string) {
	switch cmd {
	case tools.CommandExit:
		m.ExitRequested = true
	case tools.CommandReset:
		m.ResetRequested = true
	case tools.CommandPrivate:
		m.Private = true
	case tools.CommandHighPower:
		if highPowerModel != "" {
			m.ActiveModel = highPowerModel
		}
	}
}
