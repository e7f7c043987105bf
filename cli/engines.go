package cli

import (
	// Engines register themselves on import.
	_ "huawei.com/wasm-runner/wasm/engines/wazero"
)
