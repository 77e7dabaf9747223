//go:build !nes_debug

package invariant

func checkImpl(bool, string) {}
