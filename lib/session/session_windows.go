// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package session

import "golang.org/x/sys/windows"

// servicesSession is the session that hosts services and never owns a
// desktop since Vista.
const servicesSession = 0

func detect() Descriptor {
	var id uint32
	if err := windows.ProcessIdToSessionId(windows.GetCurrentProcessId(), &id); err != nil {
		// Without an answer, assume the isolated case: going through the
		// agent works from anywhere, touching the desktop directly does not.
		return Descriptor{SessionID: servicesSession, Interactive: false}
	}
	return Descriptor{SessionID: id, Interactive: id != servicesSession}
}
