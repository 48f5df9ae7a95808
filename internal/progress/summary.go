package progress

import "fmt"

// Summary is one aggregated view of tracked work. Summaries are compared by
// pointer identity: pushing and popping fallback or priority summaries
// requires the same *Summary value.
type Summary struct {
	Indeterminate bool
	Progress      float64
	Message       string
	Count         int
}

// HasMessage reports whether the summary carries a message.
func (s *Summary) HasMessage() bool {
	return s != nil && s.Message != ""
}

// String renders the summary for logs.
func (s *Summary) String() string {
	if s == nil {
		return "<nil>"
	}
	if s.Indeterminate {
		return fmt.Sprintf("%q (indeterminate, %d)", s.Message, s.Count)
	}
	return fmt.Sprintf("%q (%.0f%%, %d)", s.Message, s.Progress*100, s.Count)
}

var groupTemplates = map[OperationType]string{
	OpCreateFolder: "Creating %d folders…",
	OpMove:         "Moving %d items…",
	OpCopy:         "Copying %d items…",
	OpDelete:       "Deleting %d items…",
	OpUpload:       "Uploading %d files…",
	OpDownload:     "Downloading %d files…",
	OpUpdate:       "Updating %d items…",
}

// GroupMessage formats the multi-operation message for op, reporting false
// when op never groups.
func GroupMessage(op OperationType, count int) (string, bool) {
	tmpl, ok := groupTemplates[op]
	if !ok {
		return "", false
	}
	return fmt.Sprintf(tmpl, count), true
}
