package utils

import "strings"

// IsHexAddress performs the basic 0x-prefixed 20-byte address format check.
// Checksum casing is not enforced; the chain is the authority on that.
func IsHexAddress(addr string) bool {
	if len(addr) != 42 || !strings.HasPrefix(addr, "0x") {
		return false
	}
	for _, c := range addr[2:] {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
