//go:build !linux

package offline

func residentBytes() (uint64, bool) { return 0, false }
