package main

import (
	"os"
	"pacbridge/cmd/probe/app"

	"k8s.io/component-base/logs"
)

func main() {
	cmd := app.NewProbeCmd()
	logs.InitLogs()
	defer logs.FlushLogs()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
