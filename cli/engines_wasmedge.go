//go:build wasmedge

package cli

import (
	_ "huawei.com/wasm-runner/wasm/engines/wasmedge"
)
