package tasks

import (
	"context"

	"github.com/opentargets/otter/pkg/log"
	"github.com/opentargets/otter/pkg/manifest"
	"github.com/opentargets/otter/pkg/registry"
	"github.com/opentargets/otter/pkg/task"
)

// HelloWorldTaskType is the registry key for HelloWorld.
const HelloWorldTaskType = "hello_world"

// HelloWorld is the simplest possible task: it greets whoever its spec
// names and records a throwaway artifact about it. Useful for smoke-testing
// a step's coordinator/worker wiring without touching any real storage.
type HelloWorld struct {
	task.Base
}

// NewHelloWorld is the registry.Constructor for HelloWorld.
func NewHelloWorld(spec task.Spec, ctx *task.Context) (task.Task, error) {
	return &HelloWorld{Base: task.NewBase(spec, ctx)}, nil
}

func (h *HelloWorld) who() string {
	return optionalStringField(h.Spec().Fields, "who", "world")
}

func (h *HelloWorld) Run(context.Context) error {
	who := h.who()
	log.WithTask(h.Spec().Name).Info().Str("who", who).Msg("saying hello")
	h.Manifest().Artifacts = []manifest.Artifact{
		{Source: manifest.SingleArtifact("me"), Destination: manifest.SingleArtifact(who)},
	}
	return nil
}

func (h *HelloWorld) Validate(context.Context) error {
	log.WithTask(h.Spec().Name).Info().Msg("did we say hello properly? yes we did")
	return nil
}

// Register installs every built-in task type constructor into reg.
func Register(reg *registry.Registry) {
	for taskType, ctor := range Constructors() {
		reg.Register(taskType, ctor)
	}
}

// Constructors returns the built-in task type table keyed by task type
// token. Used both by Register (coordinator-side registry, which also
// performs scratchpad substitution) and directly by a worker subprocess's
// worker.Factory (which only ever reconstructs a Task from already-
// substituted fields).
func Constructors() map[string]registry.Constructor {
	return map[string]registry.Constructor{
		HelloWorldTaskType:  NewHelloWorld,
		CopyTaskType:        NewCopy,
		DownloadTaskType:    NewDownload,
		FindLatestTaskType:  NewFindLatest,
		ExplodeGlobTaskType: NewExplodeGlob,
	}
}
