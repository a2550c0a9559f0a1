// Package notify delivers lock events to the user. Status messages are
// fire-and-forget; conflicts are rendered as a blocking dialog by whichever
// host surface is attached.
package notify

import (
	"log"
	"time"
)

// Conflict describes a lock held by another workstation, shown when the
// user opens a file they cannot lock.
type Conflict struct {
	File     string    `json:"file"`
	Owner    string    `json:"owner"`
	LockedAt time.Time `json:"locked_at"`
}

// Notifier presents lock events to the user.
type Notifier interface {
	// Info shows a non-blocking status message.
	Info(message string)

	// Conflict shows a blocking warning that the file is locked elsewhere
	// and local edits may be lost.
	Conflict(c Conflict)
}

// Console logs notifications to the process log. Used when no host surface
// is connected.
type Console struct{}

// NewConsole creates a Console notifier.
func NewConsole() *Console {
	return &Console{}
}

func (c *Console) Info(message string) {
	log.Printf("notify: %s", message)
}

func (c *Console) Conflict(conflict Conflict) {
	log.Printf("notify: WARNING %q is locked by %s since %s - changes may be lost",
		conflict.File, conflict.Owner, conflict.LockedAt.Format(time.RFC3339))
}

// Multi fans notifications out to several notifiers.
type Multi struct {
	notifiers []Notifier
}

// NewMulti creates a Multi from the given notifiers.
func NewMulti(ns ...Notifier) *Multi {
	return &Multi{notifiers: ns}
}

func (m *Multi) Info(message string) {
	for _, n := range m.notifiers {
		n.Info(message)
	}
}

func (m *Multi) Conflict(c Conflict) {
	for _, n := range m.notifiers {
		n.Conflict(c)
	}
}
