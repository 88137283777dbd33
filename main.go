package main

import cmd "github.com/webitel/report-orchestrator/cmd/main"

func main() {
	cmd.Run()
}
