// Copyright © 2024 The zs-debug-adapter authors

package main

import "github.com/warmthdawn/zs-debug-adapter/cmd"

func main() {
	cmd.Execute()
}
