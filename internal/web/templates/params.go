package templates

// StatusParams holds the data rendered by StatusPage.
type StatusParams struct {
	Running bool
	Targets []string
	Runs    []RunRow
}

// RunRow is one run formatted for display.
type RunRow struct {
	ID        string
	Started   string
	Trigger   string
	Status    string
	Countries string
	Forms     string
	Duration  string
	Error     string
}

// State is the label shown for the sync gate.
func (p StatusParams) State() string {
	if p.Running {
		return "running"
	}
	return "idle"
}
