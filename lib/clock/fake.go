// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock whose time only moves when Advance is called.
// Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*alarm
	changed *sync.Cond
}

// alarm is a registered After or ticker waiter.
type alarm struct {
	at       time.Time
	every    time.Duration // zero for one-shot waits
	channel  chan time.Time
	canceled bool
}

// Fake returns a FakeClock reading start until advanced.
func Fake(start time.Time) *FakeClock {
	fake := &FakeClock{now: start}
	fake.changed = sync.NewCond(&fake.mu)
	return fake
}

// Now returns the fake time.
func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After registers a one-shot waiter. A non-positive d fires at once
// without registering.
func (f *FakeClock) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- f.now
		return channel
	}
	f.pending = append(f.pending, &alarm{at: f.now.Add(d), channel: channel})
	f.changed.Broadcast()
	return channel
}

// NewTicker registers a periodic waiter.
func (f *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: NewTicker requires a positive interval")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	entry := &alarm{at: f.now.Add(d), every: d, channel: make(chan time.Time, 1)}
	f.pending = append(f.pending, entry)
	f.changed.Broadcast()

	return &Ticker{
		C: entry.channel,
		stop: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			entry.canceled = true
		},
	}
}

// Advance moves time forward by d and fires every waiter whose deadline
// is reached, earliest first. A ticker spanning several intervals fires
// once per interval; sends never block, so surplus ticks are dropped.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	target := f.now
	f.mu.Unlock()

	for {
		due := f.takeDue(target)
		if len(due) == 0 {
			return
		}
		for _, entry := range due {
			select {
			case entry.channel <- target:
			default:
			}
		}
	}
}

// takeDue removes expired one-shot waiters, reschedules tickers, and
// returns what must fire, sorted by deadline.
func (f *FakeClock) takeDue(target time.Time) []*alarm {
	f.mu.Lock()
	defer f.mu.Unlock()

	var due, keep []*alarm
	for _, entry := range f.pending {
		switch {
		case entry.canceled:
		case entry.at.After(target):
			keep = append(keep, entry)
		default:
			due = append(due, entry)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, entry := range due {
		if entry.every > 0 {
			entry.at = entry.at.Add(entry.every)
			keep = append(keep, entry)
		}
	}
	f.pending = keep
	return due
}

// BlockUntil waits until at least n waiters are registered. Tests call
// it before Advance so a goroutine that has not yet reached its After
// or NewTicker call does not miss the advance.
func (f *FakeClock) BlockUntil(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.activeLocked() < n {
		f.changed.Wait()
	}
}

// Pending reports the number of registered, uncanceled waiters.
func (f *FakeClock) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeLocked()
}

func (f *FakeClock) activeLocked() int {
	count := 0
	for _, entry := range f.pending {
		if !entry.canceled {
			count++
		}
	}
	return count
}
