//	@title			Pulstrate API
//	@version		1.0
//	@description	Pulstrate is a task execution engine with hierarchical tasks, progress roll-up, and live event streams

//	@BasePath	/api/v0

//	@tag.name			tasks
//	@tag.description	Task management operations

//	@tag.name			groups
//	@tag.description	Scheduling group management operations

//	@tag.name			Operations
//	@tag.description	Operational endpoints for monitoring and health

package main

import (
	"os"

	"github.com/danmincu/pulstrate/cli"
)

func main() {
	cmd := cli.RootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
