// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package launcher

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Mandatory integrity level RIDs. High is an elevated administrator;
// System is reserved for services and session infrastructure (winlogon,
// csrss) whose tokens must never be borrowed.
const (
	integrityHigh   = 0x3000
	integritySystem = 0x4000
)

// noConsoleSession is what WTSGetActiveConsoleSessionId returns while
// the console is being attached or detached.
const noConsoleSession = 0xFFFFFFFF

// interactiveDesktop is the window station and desktop of the logged-in
// user.
const interactiveDesktop = `winsta0\default`

type windowsToken struct {
	handle windows.Token
}

func (t *windowsToken) Close() error {
	return t.handle.Close()
}

type environmentBlock struct {
	block *uint16
}

func (e *environmentBlock) Close() error {
	return windows.DestroyEnvironmentBlock(e.block)
}

type windowsPlatform struct{}

// NewPlatform returns the Windows token and process API. The caller must
// run as LocalSystem (or hold SeTcbPrivilege) for WTSQueryUserToken and
// CreateProcessAsUser to succeed.
func NewPlatform() Platform {
	return windowsPlatform{}
}

func (windowsPlatform) ActiveConsoleSession() (uint32, error) {
	session := windows.WTSGetActiveConsoleSessionId()
	if session == noConsoleSession {
		return 0, fmt.Errorf("%w: %w", ErrNoConsoleSession, windows.ERROR_NO_SUCH_LOGON_SESSION)
	}
	return session, nil
}

func (windowsPlatform) FindElevatedToken(session uint32) (Token, bool, error) {
	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return nil, false, fmt.Errorf("snapshotting processes: %w", err)
	}
	defer windows.CloseHandle(snapshot)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	for err = windows.Process32First(snapshot, &entry); err == nil; err = windows.Process32Next(snapshot, &entry) {
		var processSession uint32
		if windows.ProcessIdToSessionId(entry.ProcessID, &processSession) != nil || processSession != session {
			continue
		}
		if token, ok := elevatedProcessToken(entry.ProcessID); ok {
			return &windowsToken{handle: token}, true, nil
		}
	}
	if !errors.Is(err, windows.ERROR_NO_MORE_FILES) {
		return nil, false, fmt.Errorf("walking process list: %w", err)
	}
	return nil, false, nil
}

// elevatedProcessToken opens pid's token and keeps it only when its
// integrity level is High. Processes that cannot be opened are skipped.
func elevatedProcessToken(pid uint32) (windows.Token, bool) {
	process, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return 0, false
	}
	defer windows.CloseHandle(process)

	var token windows.Token
	if err := windows.OpenProcessToken(process, windows.TOKEN_QUERY|windows.TOKEN_DUPLICATE|windows.TOKEN_ASSIGN_PRIMARY, &token); err != nil {
		return 0, false
	}
	level, err := integrityLevel(token)
	if err != nil || level < integrityHigh || level >= integritySystem {
		token.Close()
		return 0, false
	}
	return token, true
}

// integrityLevel returns the last sub-authority of the token's mandatory
// label SID, which is the integrity RID.
func integrityLevel(token windows.Token) (uint32, error) {
	var size uint32
	err := windows.GetTokenInformation(token, windows.TokenIntegrityLevel, nil, 0, &size)
	if err != nil && !errors.Is(err, windows.ERROR_INSUFFICIENT_BUFFER) {
		return 0, err
	}
	if size == 0 {
		return 0, errors.New("empty integrity label")
	}
	buffer := make([]byte, size)
	if err := windows.GetTokenInformation(token, windows.TokenIntegrityLevel, &buffer[0], size, &size); err != nil {
		return 0, err
	}
	label := (*windows.Tokenmandatorylabel)(unsafe.Pointer(&buffer[0]))
	count := label.Label.Sid.SubAuthorityCount()
	if count == 0 {
		return 0, errors.New("integrity label has no sub-authorities")
	}
	return label.Label.Sid.SubAuthority(uint32(count - 1)), nil
}

func (windowsPlatform) UserToken(session uint32) (Token, error) {
	var token windows.Token
	if err := windows.WTSQueryUserToken(session, &token); err != nil {
		return nil, err
	}
	return &windowsToken{handle: token}, nil
}

func handleOf(token Token) (windows.Token, error) {
	native, ok := token.(*windowsToken)
	if !ok {
		return 0, fmt.Errorf("token of type %T was not issued by this platform", token)
	}
	return native.handle, nil
}

func (windowsPlatform) DuplicatePrimary(token Token) (Token, error) {
	source, err := handleOf(token)
	if err != nil {
		return nil, err
	}
	var duplicate windows.Token
	if err := windows.DuplicateTokenEx(source, windows.MAXIMUM_ALLOWED, nil, windows.SecurityImpersonation, windows.TokenPrimary, &duplicate); err != nil {
		return nil, err
	}
	return &windowsToken{handle: duplicate}, nil
}

func (windowsPlatform) CreateEnvironment(token Token) (Environment, error) {
	handle, err := handleOf(token)
	if err != nil {
		return nil, err
	}
	var block *uint16
	if err := windows.CreateEnvironmentBlock(&block, handle, false); err != nil {
		return nil, err
	}
	return &environmentBlock{block: block}, nil
}

func (windowsPlatform) CreateProcess(token Token, environment Environment, commandLine string) (int, error) {
	handle, err := handleOf(token)
	if err != nil {
		return 0, err
	}
	block, ok := environment.(*environmentBlock)
	if !ok {
		return 0, fmt.Errorf("environment of type %T was not issued by this platform", environment)
	}
	command, err := windows.UTF16PtrFromString(commandLine)
	if err != nil {
		return 0, err
	}
	desktop, err := windows.UTF16PtrFromString(interactiveDesktop)
	if err != nil {
		return 0, err
	}

	startup := windows.StartupInfo{
		Desktop:    desktop,
		Flags:      windows.STARTF_USESHOWWINDOW,
		ShowWindow: windows.SW_HIDE,
	}
	startup.Cb = uint32(unsafe.Sizeof(startup))
	var information windows.ProcessInformation
	err = windows.CreateProcessAsUser(
		handle, nil, command, nil, nil, false,
		windows.CREATE_UNICODE_ENVIRONMENT|windows.CREATE_NO_WINDOW,
		block.block, nil, &startup, &information,
	)
	if err != nil {
		return 0, err
	}
	windows.CloseHandle(information.Thread)
	windows.CloseHandle(information.Process)
	return int(information.ProcessId), nil
}
