//go:build llama

package engine

// Link against libllama.so placed next to the binary (./bin). The rpath of
// $ORIGIN lets the loader find it at runtime without environment variables.
/*
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../bin -lllama
*/
import "C"
