package model

import "time"

// RawMessage is one message as fetched from the mailbox, identified by its
// IMAP UID. It is held only until parsing.
type RawMessage struct {
	UID uint32
	Raw []byte
}

// ImportMessage represents a single email taken from an mbox archive for
// upload into the ticket inbox.
type ImportMessage struct {
	ID         string
	ReceivedAt time.Time
	Raw        []byte
}
