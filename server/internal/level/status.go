package level

// Status names returned by Classify.
const (
	StatusOverloaded = "overloaded"
	StatusFocused    = "focused"
	StatusFaded      = "faded"
)

// Thresholds (mg, exclusive) that map a level to a status.
const (
	ThresholdOverloaded = 200.0
	ThresholdFocused    = 50.0
)

// Status is a named interpretation of a caffeine level.
type Status struct {
	// Name is one of StatusOverloaded, StatusFocused or StatusFaded.
	Name string `json:"status"`

	// Message is a short human-readable description for UIs.
	Message string `json:"message"`
}

// Classify maps a level in mg to a Status.
func Classify(mg float64) Status {
	switch {
	case mg > ThresholdOverloaded:
		return Status{Name: StatusOverloaded, Message: "Too much caffeine, you may feel jittery or anxious."}
	case mg > ThresholdFocused:
		return Status{Name: StatusFocused, Message: "Good level for focused work."}
	default:
		return Status{Name: StatusFaded, Message: "The caffeine effect has mostly worn off."}
	}
}
