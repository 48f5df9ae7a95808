package progress

import "sync"

var (
	sharedMu    sync.Mutex
	sharedByKey = map[any]*Summarizer{}
)

// Shared returns the process-wide Summarizer registered under key, creating
// one with default settings on first use. Keys are usually account IDs.
func Shared(key any) *Summarizer {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	s, ok := sharedByKey[key]
	if !ok {
		s = NewSummarizer(Config{})
		sharedByKey[key] = s
	}
	return s
}

// ForgetShared drops the Summarizer registered under key.
func ForgetShared(key any) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	delete(sharedByKey, key)
}
