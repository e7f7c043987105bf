package main

import (
	"huawei.com/wasm-runner/cli"
)

func main() {
	cli.Main()
}
