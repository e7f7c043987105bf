//go:build cgo

package wasmtime

import (
	"github.com/bytecodealliance/wasmtime-go"
)

const errnoNotSupported = -52

// defineEmscripten links the host functions emscripten modules import from "env".
func defineEmscripten(linker *wasmtime.Linker) error {
	for _, name := range []string{"emscripten_memcpy_big", "_emscripten_memcpy_big"} {
		if err := linker.FuncWrap("env", name, memcpyBig); err != nil {
			return err
		}
	}

	return linker.FuncWrap("env", "__map_file", func(_addr, _size int32) int32 {
		return errnoNotSupported
	})
}

func memcpyBig(caller *wasmtime.Caller, dest, src, num int32) int32 {
	export := caller.GetExport("memory")
	if export == nil || export.Memory() == nil {
		return dest
	}

	data := export.Memory().UnsafeData(caller)
	copy(data[dest:dest+num], data[src:src+num])

	return dest
}
