// Package processor runs a chain of sample-rate-checked DSP stages.
package processor

import (
	"errors"
	"fmt"

	"github.com/norasector/omnihack/pkg/util"
	"github.com/norasector/turbine-common/types"
)

var ErrNotInitialized = errors.New("processor not initialized")

type Processor struct {
	Name        string
	blocks      []*DSPWorker
	initialized bool
}

func NewProcessor(name string) *Processor {
	return &Processor{Name: name}
}

func (p *Processor) AddBlock(worker *DSPWorker) {
	p.blocks = append(p.blocks, worker)
	p.initialized = false
}

func (p *Processor) Blocks() []*DSPWorker {
	return p.blocks
}

// Initialize checks that inputRate feeds the first block and that every
// block's input rate matches the previous block's output rate.
func (p *Processor) Initialize(inputRate int) error {
	if len(p.blocks) == 0 {
		return fmt.Errorf("%s: must specify at least 1 block", p.Name)
	}

	cur := p.blocks[0]
	if cur.InputRate != inputRate {
		return fmt.Errorf("%s: input %s rate mismatch (%d %d)", p.Name, cur.Name, inputRate, cur.InputRate)
	}

	for i := 1; i < len(p.blocks); i++ {
		next := p.blocks[i]
		if cur.OutputRate != next.InputRate {
			return fmt.Errorf("%s: cur: %s next %s rate mismatch (%d %d)", p.Name, cur.Name, next.Name, cur.OutputRate, next.InputRate)
		}
		cur = next
	}

	p.initialized = true
	return nil
}

// OutputRate is the sample rate leaving the last block.
func (p *Processor) OutputRate() int {
	if len(p.blocks) == 0 {
		return 0
	}
	return p.blocks[len(p.blocks)-1].OutputRate
}

// Process runs input through every block in order. Per-block durations in
// microseconds are recorded in metrics under "<block>_duration" when metrics
// is non-nil. The returned segment's data is only valid until the next call.
func (p *Processor) Process(input *types.SegmentComplex64, metrics map[string]interface{}) (*types.SegmentComplex64, error) {
	if !p.initialized {
		return nil, ErrNotInitialized
	}

	data := input.Data
	for _, block := range p.blocks {
		var out []complex64
		elapsed := util.TimeOperationMicroseconds(func() {
			out = block.work(data)
		})
		data = out
		if metrics != nil {
			metrics[fmt.Sprintf("%s_duration", block.Name)] = elapsed
		}
	}

	return &types.SegmentComplex64{
		Data:          data,
		SegmentNumber: input.SegmentNumber,
	}, nil
}
