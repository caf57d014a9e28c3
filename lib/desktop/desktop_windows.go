// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package desktop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/bureau-foundation/deskbridge/lib/protocol"
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")
	gdi32  = windows.NewLazySystemDLL("gdi32.dll")

	procSendInput          = user32.NewProc("SendInput")
	procGetSystemMetrics   = user32.NewProc("GetSystemMetrics")
	procLockWorkStation    = user32.NewProc("LockWorkStation")
	procMapVirtualKeyW     = user32.NewProc("MapVirtualKeyW")
	procGetDC              = user32.NewProc("GetDC")
	procReleaseDC          = user32.NewProc("ReleaseDC")
	procSetProcessDPIAware = user32.NewProc("SetProcessDPIAware")
	procGetWindowTextW     = user32.NewProc("GetWindowTextW")
	procEnumWindows        = user32.NewProc("EnumWindows")

	procCreateCompatibleDC     = gdi32.NewProc("CreateCompatibleDC")
	procCreateCompatibleBitmap = gdi32.NewProc("CreateCompatibleBitmap")
	procSelectObject           = gdi32.NewProc("SelectObject")
	procBitBlt                 = gdi32.NewProc("BitBlt")
	procGetDIBits              = gdi32.NewProc("GetDIBits")
	procDeleteObject           = gdi32.NewProc("DeleteObject")
	procDeleteDC               = gdi32.NewProc("DeleteDC")
)

const (
	inputMouse    = 0
	inputKeyboard = 1

	mouseMove       = 0x0001
	mouseLeftDown   = 0x0002
	mouseLeftUp     = 0x0004
	mouseRightDown  = 0x0008
	mouseRightUp    = 0x0010
	mouseMiddleDown = 0x0020
	mouseMiddleUp   = 0x0040
	mouseWheel      = 0x0800
	mouseVirtual    = 0x4000
	mouseAbsolute   = 0x8000

	keyExtended = 0x0001
	keyUp       = 0x0002

	mapVirtualKeyToScan = 0

	smXVirtualScreen  = 76
	smYVirtualScreen  = 77
	smCXVirtualScreen = 78
	smCYVirtualScreen = 79

	sourceCopy  = 0x00CC0020
	captureBlt  = 0x40000000
	biRGB       = 0
	dibRGBColor = 0
)

// mouseInput mirrors MOUSEINPUT.
type mouseInput struct {
	dx        int32
	dy        int32
	mouseData uint32
	flags     uint32
	time      uint32
	extraInfo uintptr
}

// keyboardInput mirrors KEYBDINPUT.
type keyboardInput struct {
	virtualKey uint16
	scanCode   uint16
	flags      uint32
	time       uint32
	extraInfo  uintptr
}

// input mirrors INPUT for the mouse arm of the union, which is the
// largest, so its size equals sizeof(INPUT).
type input struct {
	kind  uint32
	mouse mouseInput
}

// keyboardEvent is INPUT viewed through the keyboard arm, padded to
// sizeof(INPUT).
type keyboardEvent struct {
	kind     uint32
	keyboard keyboardInput
	_        [unsafe.Sizeof(mouseInput{}) - unsafe.Sizeof(keyboardInput{})]byte
}

// bitmapInfoHeader mirrors BITMAPINFOHEADER.
type bitmapInfoHeader struct {
	size          uint32
	width         int32
	height        int32
	planes        uint16
	bitCount      uint16
	compression   uint32
	sizeImage     uint32
	xPelsPerMeter int32
	yPelsPerMeter int32
	colorsUsed    uint32
	colorsImp     uint32
}

// extendedKeys need KEYEVENTF_EXTENDEDKEY or they arrive as their numpad
// twins.
var extendedKeys = map[int]bool{
	0x21: true, 0x22: true, 0x23: true, 0x24: true, // page up/down, end, home
	0x25: true, 0x26: true, 0x27: true, 0x28: true, // arrows
	0x2C: true, 0x2D: true, 0x2E: true, // print screen, insert, delete
	0x5B: true, 0x5C: true, 0x5D: true, // windows keys, apps
	0x6F: true, 0x90: true, // numpad divide, num lock
	0xA3: true, 0xA5: true, // right control, right alt
}

var dpiAware sync.Once

type windowsDesktop struct {
	quality int
}

// New returns the Windows desktop. The process is marked DPI aware so
// metrics and captures are in physical pixels.
func New(options Options) Desktop {
	dpiAware.Do(func() { procSetProcessDPIAware.Call() })
	quality := options.JPEGQuality
	if quality <= 0 {
		quality = 75
	}
	return &windowsDesktop{quality: quality}
}

func (d *windowsDesktop) ScreenBounds() (protocol.Bounds, error) {
	metric := func(index uintptr) int {
		value, _, _ := procGetSystemMetrics.Call(index)
		return int(int32(value))
	}
	bounds := protocol.Bounds{
		X:      metric(smXVirtualScreen),
		Y:      metric(smYVirtualScreen),
		Width:  metric(smCXVirtualScreen),
		Height: metric(smCYVirtualScreen),
	}
	if bounds.Width <= 0 || bounds.Height <= 0 {
		return protocol.Bounds{}, errors.New("virtual screen has no area (no desktop attached to this session?)")
	}
	return bounds, nil
}

func (d *windowsDesktop) Capture(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bounds, err := d.ScreenBounds()
	if err != nil {
		return nil, err
	}

	screen, _, callErr := procGetDC.Call(0)
	if screen == 0 {
		return nil, fmt.Errorf("GetDC: %w", callErr)
	}
	defer procReleaseDC.Call(0, screen)

	memory, _, callErr := procCreateCompatibleDC.Call(screen)
	if memory == 0 {
		return nil, fmt.Errorf("CreateCompatibleDC: %w", callErr)
	}
	defer procDeleteDC.Call(memory)

	bitmap, _, callErr := procCreateCompatibleBitmap.Call(screen, uintptr(bounds.Width), uintptr(bounds.Height))
	if bitmap == 0 {
		return nil, fmt.Errorf("CreateCompatibleBitmap: %w", callErr)
	}
	defer procDeleteObject.Call(bitmap)

	previous, _, _ := procSelectObject.Call(memory, bitmap)
	copied, _, callErr := procBitBlt.Call(
		memory, 0, 0, uintptr(bounds.Width), uintptr(bounds.Height),
		screen, uintptr(bounds.X), uintptr(bounds.Y),
		sourceCopy|captureBlt,
	)
	// GetDIBits requires the bitmap not be selected into a DC.
	procSelectObject.Call(memory, previous)
	if copied == 0 {
		return nil, fmt.Errorf("BitBlt: %w", callErr)
	}

	header := bitmapInfoHeader{
		width:       int32(bounds.Width),
		height:      -int32(bounds.Height), // negative: top-down rows
		planes:      1,
		bitCount:    32,
		compression: biRGB,
	}
	header.size = uint32(unsafe.Sizeof(header))
	pixels := make([]byte, bounds.Width*bounds.Height*4)
	lines, _, callErr := procGetDIBits.Call(
		memory, bitmap, 0, uintptr(bounds.Height),
		uintptr(unsafe.Pointer(&pixels[0])),
		uintptr(unsafe.Pointer(&header)),
		dibRGBColor,
	)
	if lines == 0 {
		return nil, fmt.Errorf("GetDIBits: %w", callErr)
	}
	return encodeBGRA(pixels, bounds.Width, bounds.Height, d.quality)
}

func buttonFlags(button protocol.MouseButton) (down, up uint32, err error) {
	switch button {
	case protocol.ButtonLeft:
		return mouseLeftDown, mouseLeftUp, nil
	case protocol.ButtonRight:
		return mouseRightDown, mouseRightUp, nil
	case protocol.ButtonMiddle:
		return mouseMiddleDown, mouseMiddleUp, nil
	}
	return 0, 0, fmt.Errorf("unknown mouse button %d", int(button))
}

// pointerEvent builds an absolute, virtual-desktop mouse event at point.
func pointerEvent(point protocol.Point, flags uint32, data uint32) input {
	return input{
		kind: inputMouse,
		mouse: mouseInput{
			dx:        absolute(point.X),
			dy:        absolute(point.Y),
			mouseData: data,
			flags:     flags | mouseMove | mouseAbsolute | mouseVirtual,
		},
	}
}

func sendMouse(events ...input) error {
	sent, _, callErr := procSendInput.Call(
		uintptr(len(events)),
		uintptr(unsafe.Pointer(&events[0])),
		unsafe.Sizeof(events[0]),
	)
	if int(sent) != len(events) {
		return fmt.Errorf("SendInput injected %d of %d mouse events: %w", sent, len(events), callErr)
	}
	return nil
}

func (d *windowsDesktop) Click(point protocol.Point, button protocol.MouseButton) error {
	down, up, err := buttonFlags(button)
	if err != nil {
		return err
	}
	return sendMouse(pointerEvent(point, down, 0), pointerEvent(point, up, 0))
}

func (d *windowsDesktop) Move(point protocol.Point) error {
	return sendMouse(pointerEvent(point, 0, 0))
}

func (d *windowsDesktop) ButtonDown(point protocol.Point, button protocol.MouseButton) error {
	down, _, err := buttonFlags(button)
	if err != nil {
		return err
	}
	return sendMouse(pointerEvent(point, down, 0))
}

func (d *windowsDesktop) ButtonUp(point protocol.Point, button protocol.MouseButton) error {
	_, up, err := buttonFlags(button)
	if err != nil {
		return err
	}
	return sendMouse(pointerEvent(point, up, 0))
}

func (d *windowsDesktop) Wheel(point protocol.Point, delta int) error {
	return sendMouse(pointerEvent(point, mouseWheel, uint32(int32(delta))))
}

func keyEvent(code int, down bool) keyboardEvent {
	scan, _, _ := procMapVirtualKeyW.Call(uintptr(code), mapVirtualKeyToScan)
	var flags uint32
	if extendedKeys[code] {
		flags |= keyExtended
	}
	if !down {
		flags |= keyUp
	}
	return keyboardEvent{
		kind: inputKeyboard,
		keyboard: keyboardInput{
			virtualKey: uint16(code),
			scanCode:   uint16(scan),
			flags:      flags,
		},
	}
}

func (d *windowsDesktop) Key(code int, down bool) error {
	return d.Keys([]int{code}, down)
}

func (d *windowsDesktop) Keys(codes []int, down bool) error {
	if len(codes) == 0 {
		return nil
	}
	events := make([]keyboardEvent, len(codes))
	for index, code := range codes {
		events[index] = keyEvent(code, down)
	}
	sent, _, callErr := procSendInput.Call(
		uintptr(len(events)),
		uintptr(unsafe.Pointer(&events[0])),
		unsafe.Sizeof(events[0]),
	)
	if int(sent) != len(events) {
		return fmt.Errorf("SendInput injected %d of %d key events: %w", sent, len(events), callErr)
	}
	return nil
}

func (d *windowsDesktop) Lock() error {
	locked, _, callErr := procLockWorkStation.Call()
	if locked == 0 {
		return fmt.Errorf("LockWorkStation: %w", callErr)
	}
	return nil
}

// windowCollector accumulates the windows seen by one EnumWindows call.
type windowCollector struct {
	windows []protocol.Window
}

// Callbacks created by NewCallback are never freed and the runtime caps
// how many a process may create, so one callback serves every
// enumeration. Each call registers its own collector and passes the
// collector's handle as the callback's lParam.
var (
	collectors    sync.Map // uintptr -> *windowCollector
	nextCollector atomic.Uintptr
)

var enumerateCallback = windows.NewCallback(func(hwnd windows.HWND, handle uintptr) uintptr {
	value, ok := collectors.Load(handle)
	if !ok {
		return 0
	}
	collector := value.(*windowCollector)
	if !windows.IsWindowVisible(hwnd) {
		return 1
	}
	buffer := make([]uint16, 512)
	length, _, _ := procGetWindowTextW.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&buffer[0])), uintptr(len(buffer)))
	if length == 0 {
		return 1
	}
	var pid uint32
	if _, err := windows.GetWindowThreadProcessId(hwnd, &pid); err != nil {
		return 1
	}
	collector.windows = append(collector.windows, protocol.Window{
		PID:   int(pid),
		Title: windows.UTF16ToString(buffer[:length]),
	})
	return 1
})

func (d *windowsDesktop) Windows() ([]protocol.Window, error) {
	collector := &windowCollector{}
	handle := nextCollector.Add(1)
	collectors.Store(handle, collector)
	defer collectors.Delete(handle)

	// EnumWindows runs the callback synchronously on this thread.
	finished, _, callErr := procEnumWindows.Call(enumerateCallback, handle)
	if finished == 0 {
		return nil, fmt.Errorf("EnumWindows: %w", callErr)
	}
	return collector.windows, nil
}
