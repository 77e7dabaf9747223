//go:build nes_debug

package invariant

func checkImpl(cond bool, msg string) {
	if !cond {
		panic("invariant violated: " + msg)
	}
}
