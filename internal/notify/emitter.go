// Package notify delivers best-effort reminder notifications: a push
// notification when permitted, an in-app toast otherwise, and an audible
// cue in every case.
package notify

import (
	"context"
	"io"
	"log/slog"
)

type Message struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
}

// Pusher sends a system-level notification.
type Pusher interface {
	Configured() bool
	SendMessage(ctx context.Context, title, message string) error
}

type Emitter struct {
	permission Permission
	pusher     Pusher
	toasts     *Toasts
	bell       io.Writer
}

// NewEmitter wires the three delivery tiers. bell may be nil to disable
// the audible cue.
func NewEmitter(permission Permission, pusher Pusher, toasts *Toasts, bell io.Writer) *Emitter {
	return &Emitter{
		permission: permission,
		pusher:     pusher,
		toasts:     toasts,
		bell:       bell,
	}
}

func (e *Emitter) Permission() Permission {
	return e.permission
}

// Notify never fails: push errors fall back to a toast and audio errors
// are ignored.
func (e *Emitter) Notify(ctx context.Context, msg Message) {
	if !e.push(ctx, msg) {
		e.toasts.Add(LevelInfo, msg)
	}
	e.beep()
}

// Toast shows an in-app status message without push or sound.
func (e *Emitter) Toast(level Level, msg Message) {
	e.toasts.Add(level, msg)
}

func (e *Emitter) push(ctx context.Context, msg Message) bool {
	if e.permission != PermissionGranted || e.pusher == nil {
		return false
	}
	if err := e.pusher.SendMessage(ctx, msg.Title, msg.Body); err != nil {
		slog.Warn("Push notification failed, falling back to toast", "title", msg.Title, "error", err)
		return false
	}
	return true
}

func (e *Emitter) beep() {
	if e.bell == nil {
		return
	}
	_, _ = io.WriteString(e.bell, "\a")
}
