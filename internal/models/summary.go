package models

// SummaryConstraints tells the summarizer how to render a window of messages
type SummaryConstraints struct {
	NoNames     bool
	NoQuotes    bool
	Detail      bool
	PeriodHours int
}

// DefaultSummaryConstraints are used by every summary the engine sends
func DefaultSummaryConstraints(periodHours int, detail bool) SummaryConstraints {
	return SummaryConstraints{NoNames: true, NoQuotes: true, Detail: detail, PeriodHours: periodHours}
}
