package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/opentargets/otter/pkg/log"
	"github.com/opentargets/otter/pkg/tasks"
	"github.com/opentargets/otter/pkg/worker"
)

// workerArg is the re-exec argv[1] sentinel that routes this binary into
// worker-subprocess mode instead of through the cobra root command.
const workerArg = "__worker"

// workerIDEnv carries the pool-assigned identifier across re-exec so the
// subprocess's logs can be correlated with the coordinator's dispatch log.
const workerIDEnv = "OTTER_WORKER_ID"

// runWorker is entered directly from main when argv[1] == workerArg,
// bypassing cobra entirely: a worker subprocess takes no flags, it only
// speaks the gob protocol over stdin/stdout.
func runWorker() error {
	id := os.Getenv(workerIDEnv)
	if id == "" {
		id = fmt.Sprintf("worker-%d", os.Getpid())
	}
	return worker.RunSubprocess(id, os.Stdin, os.Stdout, tasks.Constructors)
}

// spawnWorker builds the Spawn function the worker pool uses to re-exec
// this same binary as a worker subprocess, exactly like the original
// Python's OTTER_PROCESS_ROLE=W subprocess model.
func spawnWorker() worker.Spawn {
	self, err := os.Executable()
	if err != nil {
		self = os.Args[0]
	}
	return func(workerID string) (*exec.Cmd, error) {
		cmd := exec.Command(self, workerArg)
		cmd.Env = append(os.Environ(),
			log.ProcessRoleEnv+"=W",
			workerIDEnv+"="+workerID,
		)
		cmd.Stderr = os.Stderr
		return cmd, nil
	}
}
