package main

import "github.com/Waridley/crumbeez/frontend/cli/cmd"

func main() {
	cmd.Execute()
}
