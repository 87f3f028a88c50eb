package client

// Severity classifies a line appended to the UI's message pane.
type Severity int

// Severity levels, used by the UI to choose how a line is marked
// (ConsoleUI prefixes warnings and errors with "!" and other lines with "*").
const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
)

// UI is the narrow boundary between the protocol participant and
// whatever terminal interface renders it. The participant never reaches
// into the terminal directly; it only calls these four operations.
// Process lifecycle, key handling, and layout are all the UI
// implementation's own concern.
type UI interface {
	// Status sets the single status line (e.g. connection state).
	Status(text string)
	// Append adds one line to the scrolling message pane, attributed to
	// sender, at the given severity.
	Append(sender, body string, severity Severity)
	// ReadLine blocks for one line of user input.
	ReadLine() (string, error)
	// Debug appends a line to the debug channel, not shown by default.
	Debug(text string)
}
