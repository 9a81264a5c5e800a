package worker

import (
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opentargets/otter/pkg/log"
)

// shutdownGrace is how long the pool waits for every subprocess to exit on
// its own after sending it a Shutdown request before force-killing it.
const shutdownGrace = 5 * time.Second

// proc wraps one worker subprocess and its gob pipe.
type proc struct {
	id    string
	cmd   *exec.Cmd
	stdin io.WriteCloser
	enc   *gob.Encoder
	dec   *gob.Decoder
}

// Pool manages N worker subprocesses, each executing one task at a time.
// Submit and Results together play the role of the shared task_queue /
// result_queue from the coordinator's point of view; dispatch across idle
// processes happens internally.
type Pool struct {
	procs   []*proc
	taskCh  chan Request
	results chan Result

	wg sync.WaitGroup
}

// Spawn builds the command for one worker subprocess, identified by workerID
// for logging. cmd/otter's implementation re-execs the current binary with
// OTTER_PROCESS_ROLE=W and the "__worker" argument.
type Spawn func(workerID string) (*exec.Cmd, error)

// NewPool starts n worker subprocesses using spawn and returns a Pool ready
// to accept work via Submit.
func NewPool(n int, spawn Spawn) (*Pool, error) {
	p := &Pool{
		taskCh:  make(chan Request),
		results: make(chan Result, n),
	}

	for i := 0; i < n; i++ {
		id := fmt.Sprintf("worker-%d", i)
		cmd, err := spawn(id)
		if err != nil {
			p.killAll()
			return nil, fmt.Errorf("spawning %s: %w", id, err)
		}

		stdin, err := cmd.StdinPipe()
		if err != nil {
			p.killAll()
			return nil, err
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			p.killAll()
			return nil, err
		}
		if err := cmd.Start(); err != nil {
			p.killAll()
			return nil, fmt.Errorf("starting %s: %w", id, err)
		}

		pr := &proc{id: id, cmd: cmd, stdin: stdin, enc: gob.NewEncoder(stdin), dec: gob.NewDecoder(stdout)}
		p.procs = append(p.procs, pr)

		p.wg.Add(1)
		go p.run(pr)
	}

	return p, nil
}

func (p *Pool) run(pr *proc) {
	defer p.wg.Done()
	for req := range p.taskCh {
		if err := pr.enc.Encode(&req); err != nil {
			log.WithComponent("worker-pool").Error().Str("worker", pr.id).Err(err).Msg("failed to dispatch task")
			continue
		}
		if req.Shutdown {
			_ = pr.stdin.Close()
			_ = pr.cmd.Wait()
			return
		}

		var res Result
		if err := pr.dec.Decode(&res); err != nil {
			log.WithComponent("worker-pool").Error().Str("worker", pr.id).Err(err).Msg("failed to read result")
			continue
		}
		p.results <- res
	}
}

// Submit enqueues a task for execution by the next available worker. If req
// carries no RequestID, one is assigned so the dispatch round trip can be
// correlated across the coordinator's and the worker's logs.
func (p *Pool) Submit(req Request) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	p.taskCh <- req
}

// Results returns the channel workers publish completed tasks to.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Shutdown sends every worker an explicit Shutdown request over the gob
// pipe it already speaks, so each subprocess exits via RunSubprocess's
// documented req.Shutdown path rather than being torn down. It then waits
// up to shutdownGrace (or until ctx is done) for every subprocess to exit
// cleanly, and only force-kills stragglers past that point.
func (p *Pool) Shutdown(ctx context.Context) {
	for range p.procs {
		p.taskCh <- Request{Shutdown: true}
	}
	close(p.taskCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(shutdownGrace):
		log.Warn("worker pool did not exit cleanly, force killing")
	case <-ctx.Done():
	}

	p.killAll()
}

func (p *Pool) killAll() {
	for _, pr := range p.procs {
		if pr.cmd != nil && pr.cmd.Process != nil {
			_ = pr.cmd.Process.Kill()
		}
	}
}
