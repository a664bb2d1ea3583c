package lua

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/logitow/blebridge/internal/groutine"
)

// finalDrainTimeout bounds how long a stopping drainer keeps flushing.
const finalDrainTimeout = 100 * time.Millisecond

// OutputDrainer streams Lua output records to stdout/stderr writers in the background.
type OutputDrainer struct {
	cancelOnce sync.Once
	stop       chan struct{}
	wg         sync.WaitGroup
	stdout     io.Writer
	stderr     io.Writer
	logger     *logrus.Logger
}

// NewOutputDrainer starts draining outputChan until Cancel or ctx is done.
// nil writers discard their stream.
func NewOutputDrainer(
	ctx context.Context,
	outputChan <-chan LuaOutputRecord,
	logger *logrus.Logger,
	stdout, stderr io.Writer,
) *OutputDrainer {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	d := &OutputDrainer{
		stop:   make(chan struct{}),
		stdout: stdout,
		stderr: stderr,
		logger: logger,
	}

	d.wg.Add(1)
	groutine.Go(ctx, "lua-output-drainer", func(ctx context.Context) {
		defer d.wg.Done()
		defer logger.Debugf("%s: exiting", groutine.GetName(ctx))

		for {
			select {
			case record, ok := <-outputChan:
				if !ok {
					return
				}
				d.write(record)
			case <-d.stop:
				d.flush(outputChan, "stop")
				return
			case <-ctx.Done():
				d.flush(outputChan, "context-done")
				return
			}
		}
	})

	return d
}

func (d *OutputDrainer) write(record LuaOutputRecord) {
	w := d.stdout
	if record.Source == "stderr" {
		w = d.stderr
	}
	if _, err := fmt.Fprint(w, record.Content); err != nil {
		d.logger.WithFields(logrus.Fields{
			"source": record.Source,
			"error":  err,
		}).Warn("Output drainer: write failed")
	}
}

// flush writes whatever is still buffered, giving up after finalDrainTimeout of silence.
func (d *OutputDrainer) flush(outputChan <-chan LuaOutputRecord, reason string) {
	drained := 0
	timeout := time.NewTimer(finalDrainTimeout)
	defer timeout.Stop()

	for {
		select {
		case record, ok := <-outputChan:
			if !ok {
				return
			}
			drained++
			d.write(record)
		case <-timeout.C:
			d.logger.WithFields(logrus.Fields{
				"reason":  reason,
				"drained": drained,
			}).Debug("Output drainer: final drain finished")
			return
		}
	}
}

// Cancel signals the drainer to flush and stop.
func (d *OutputDrainer) Cancel() {
	d.cancelOnce.Do(func() {
		close(d.stop)
	})
}

// Wait blocks until the drainer goroutine has exited.
func (d *OutputDrainer) Wait() {
	d.wg.Wait()
}
