package ortlib

import "unsafe"

// maxCStringLen bounds the scan for a terminator. Version strings and status
// messages from the runtime are far shorter.
const maxCStringLen = 1 << 20

// minValidAddress rejects pointers into the zero page, which are never valid C strings.
const minValidAddress = 4096

// CstringToGo copies a null-terminated C string into a Go string.
// It returns "" for null and zero-page addresses.
func CstringToGo(ptr uintptr) string {
	if ptr < minValidAddress {
		return ""
	}

	base := unsafe.Pointer(ptr) //nolint:govet // pointer comes from the native runtime
	length := 0
	for length < maxCStringLen {
		if *(*byte)(unsafe.Add(base, length)) == 0 {
			break
		}
		length++
	}
	return string(unsafe.Slice((*byte)(base), length))
}
