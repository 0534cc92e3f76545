// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package progress reports run progress to the terminal: an animated
// spinner on a TTY, degrading to a single "PROGRESS: <message>" line
// per update when stdout is not a TTY.
package progress

import (
	"fmt"
	"os"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// isTTY reports whether stdout is a terminal.
func isTTY() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// Reporter drives a single spinner/progress line for the duration of one
// phase or long-running step.
type Reporter struct {
	message    string
	current    int
	total      int
	stop       chan struct{}
	done       chan struct{}
	mu         sync.Mutex
	running    bool
	frameIndex int
	tty        bool
}

// New creates a Reporter for message. total is the number of units of
// work expected; 0 means an indeterminate count.
func New(message string, total int) *Reporter {
	return &Reporter{
		message: message,
		total:   total,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		tty:     isTTY(),
	}
}

// Start begins reporting. On a non-TTY it prints one line and returns
// immediately; on a TTY it animates until Stop is called.
func (r *Reporter) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	if !r.tty {
		fmt.Printf("PROGRESS: %s\n", r.message)
		return
	}

	go func() {
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				fmt.Print("\r\033[K")
				close(r.done)
				return
			case <-ticker.C:
				r.mu.Lock()
				frame := spinnerFrames[r.frameIndex]
				msg := r.currentMessage()
				r.frameIndex = (r.frameIndex + 1) % len(spinnerFrames)
				r.mu.Unlock()
				fmt.Printf("\r%s %s", frame, msg)
			}
		}
	}()
}

func (r *Reporter) currentMessage() string {
	if r.total <= 0 {
		return r.message
	}
	return fmt.Sprintf("%s [%d/%d]", r.message, r.current, r.total)
}

// Increment advances the progress counter and, on a non-TTY, emits a
// fresh PROGRESS line so log consumers still see forward motion.
func (r *Reporter) Increment() {
	r.mu.Lock()
	r.current++
	msg := r.currentMessage()
	tty := r.tty
	r.mu.Unlock()

	if !tty {
		fmt.Printf("PROGRESS: %s\n", msg)
	}
}

// Stop halts the spinner, clearing the line on a TTY.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	if !r.tty {
		return
	}
	close(r.stop)
	<-r.done
}
