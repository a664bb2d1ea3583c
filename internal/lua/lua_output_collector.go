package lua

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// MaxBufferSize guards against accidental misconfiguration.
const MaxBufferSize uint32 = 1024 * 1024

// LuaOutputCollector keeps the most recent script output in an overlapped ring
// buffer so only the tail is shown once the script ends.
type LuaOutputCollector struct {
	outputChan <-chan LuaOutputRecord
	buffer     mpmc.RichOverlappedRingBuffer[LuaOutputRecord]
	stop       chan struct{}
	done       chan struct{}
	running    atomic.Bool
	stopOnce   sync.Once

	processed   atomic.Int64
	overwritten atomic.Int64
}

// NewLuaOutputCollector creates a collector reading from ch with room for bufferSize records.
func NewLuaOutputCollector(ch <-chan LuaOutputRecord, bufferSize uint32) (*LuaOutputCollector, error) {
	if ch == nil {
		return nil, fmt.Errorf("output channel cannot be nil")
	}
	if bufferSize == 0 {
		return nil, fmt.Errorf("buffer size must be > 0")
	}
	if bufferSize > MaxBufferSize {
		return nil, fmt.Errorf("buffer size %d exceeds maximum %d", bufferSize, MaxBufferSize)
	}

	return &LuaOutputCollector{
		outputChan: ch,
		buffer:     mpmc.NewOverlappedRingBuffer[LuaOutputRecord](bufferSize),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// Start begins collecting. A collector can be started once.
func (c *LuaOutputCollector) Start() error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("collector is already running")
	}

	go func() {
		defer close(c.done)
		for {
			select {
			case <-c.stop:
				// keep what was emitted before Stop
				for {
					select {
					case rec, ok := <-c.outputChan:
						if !ok {
							return
						}
						c.collect(rec)
					default:
						return
					}
				}
			case rec, ok := <-c.outputChan:
				if !ok {
					return
				}
				c.collect(rec)
			}
		}
	}()
	return nil
}

// collect stores rec; overflow drops the oldest record.
func (c *LuaOutputCollector) collect(rec LuaOutputRecord) {
	overwrites, err := c.buffer.EnqueueM(rec)
	if err != nil {
		return
	}
	c.overwritten.Add(int64(overwrites))
	c.processed.Add(1)
}

// Stop ends collection and waits for the collector goroutine.
func (c *LuaOutputCollector) Stop() {
	if !c.running.Load() {
		return
	}
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

// Stats returns the number of collected and overwritten records.
func (c *LuaOutputCollector) Stats() (processed, overwritten int64) {
	return c.processed.Load(), c.overwritten.Load()
}

// Drain removes and returns every buffered record in order.
func (c *LuaOutputCollector) Drain() ([]LuaOutputRecord, error) {
	var out []LuaOutputRecord
	for !c.buffer.IsEmpty() {
		rec, err := c.buffer.Dequeue()
		if err != nil {
			return out, fmt.Errorf("buffer dequeue error: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// ConsumePlainText drains the buffer and concatenates record contents, ignoring metadata.
func (c *LuaOutputCollector) ConsumePlainText() (string, error) {
	records, err := c.Drain()
	var sb strings.Builder
	for _, rec := range records {
		sb.WriteString(rec.Content)
	}
	return sb.String(), err
}
