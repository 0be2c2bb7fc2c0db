package model

// TicketIdentity is the reversible identity of one ticket. Token always
// decodes back to SequenceNumber under the configured codec.
type TicketIdentity struct {
	SequenceNumber int
	Token          string
	PrefixedToken  string
}

// Correlation classifies how an incoming mail relates to the tracker.
type Correlation int

const (
	// NewTicket means no prior identity was found; a fresh one was minted.
	NewTicket Correlation = iota
	// ExistingReply means the mail carries a recovered identity and belongs
	// to an already known ticket thread.
	ExistingReply
	// EchoIgnore marks the system's own confirmation mail arriving back in
	// the inbox. It must only be archived, never synced.
	EchoIgnore
)

func (c Correlation) String() string {
	switch c {
	case NewTicket:
		return "new-ticket"
	case ExistingReply:
		return "existing-reply"
	case EchoIgnore:
		return "echo-ignore"
	}
	return "unknown"
}

// SyncOutcome reports one tracker synchronization attempt.
type SyncOutcome struct {
	Success    bool
	CreatedNew bool
}
