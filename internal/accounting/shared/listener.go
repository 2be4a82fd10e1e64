package shared

// Criticality declares how a listener failure affects the command that raised the event.
type Criticality int

const (
	// Critical listeners run inside the command transaction; their failure rolls it back.
	Critical Criticality = iota
	// BestEffort listeners run after commit; failures are logged and swallowed.
	BestEffort
)

func (c Criticality) String() string {
	if c == Critical {
		return "critical"
	}
	return "best_effort"
}
