//go:build cgo

package cli

import (
	_ "huawei.com/wasm-runner/wasm/engines/wasmtime"
)
