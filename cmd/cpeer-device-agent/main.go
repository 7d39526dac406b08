package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/fwagent/cmd/cpeer-device-agent/app"
)

func main() {
	app.NewApp().Run()
}
