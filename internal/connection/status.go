package connection

import "github.com/JakeFAU/accountlink/internal/progress"

// Status is the lifecycle state of a Connection.
type Status string

// Connection statuses.
const (
	StatusNoCore              Status = "noCore"
	StatusOffline             Status = "offline"
	StatusConnecting          Status = "connecting"
	StatusCoreAvailable       Status = "coreAvailable"
	StatusOnline              Status = "online"
	StatusBusy                Status = "busy"
	StatusAuthenticationError Status = "authenticationError"
)

// HasCore reports whether a Connection in this status holds a Core.
func (s Status) HasCore() bool {
	switch s {
	case StatusCoreAvailable, StatusOnline, StatusBusy, StatusAuthenticationError:
		return true
	}
	return false
}

// Active reports whether the status counts toward active connections.
func (s Status) Active() bool {
	return s != StatusNoCore && s != StatusOffline
}

// Reachability is the transport state reported by a Core.
type Reachability int

// Reachability values.
const (
	ReachabilityOnline Reachability = iota
	ReachabilityConnecting
	ReachabilityOffline
	ReachabilityUnavailable
)

func (r Reachability) String() string {
	switch r {
	case ReachabilityOnline:
		return "online"
	case ReachabilityConnecting:
		return "connecting"
	case ReachabilityOffline:
		return "offline"
	case ReachabilityUnavailable:
		return "unavailable"
	}
	return "unknown"
}

// RichStatus is the status plus whatever currently explains it: the busy
// operation's progress, or the summary shown while work is in flight.
type RichStatus struct {
	Status  Status
	Busy    *progress.Progress
	Summary *progress.Summary
}
