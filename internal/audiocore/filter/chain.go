package filter

import (
	"log/slog"

	"github.com/tphakala/birdnet-go/internal/audiocore"
	"github.com/tphakala/birdnet-go/internal/errors"
	"github.com/tphakala/birdnet-go/internal/logging"
)

// ChainFilter is a sequence of filter templates resolved from a
// comma-separated configuration list. Its convention, enforced by
// convention rather than by this type, is that the last element is
// always a Convert filter so the output can be re-tuned after opening
// without disturbing the rest of the chain.
type ChainFilter struct {
	name    string
	filters []Filter
}

// NewChainFilter builds a named chain from already-resolved filter
// templates, in application order.
func NewChainFilter(name string, filters ...Filter) *ChainFilter {
	return &ChainFilter{name: name, filters: filters}
}

func (f *ChainFilter) Name() string { return f.name }

func (f *ChainFilter) Prepare() PreparedFilter {
	logger := logging.ForService("audioengine")
	if logger == nil {
		logger = slog.Default()
	}
	instances := make([]PreparedFilter, len(f.filters))
	for i, tmpl := range f.filters {
		instances[i] = tmpl.Prepare()
	}
	return &chainInstance{
		name:      f.name,
		instances: instances,
		logger:    logger.With("component", "chain_filter", "filter", f.name),
	}
}

type chainInstance struct {
	name      string
	instances []PreparedFilter
	out       audiocore.AudioFormat
	logger    *slog.Logger
}

func (c *chainInstance) Open(in audiocore.AudioFormat) (audiocore.AudioFormat, error) {
	cur := in
	for i, inst := range c.instances {
		negotiated, err := inst.Open(cur)
		if err != nil {
			// Unwind anything already opened before returning.
			for j := i - 1; j >= 0; j-- {
				c.instances[j].Close()
			}
			return audiocore.AudioFormat{}, errors.New(err).
				Component("filter").
				Category(errors.CategoryAudio).
				Context("filter", c.name).
				Context("stage", i).
				Build()
		}
		cur = negotiated
		cur = inst.GetOutAudioFormat()
	}
	c.out = cur
	return in, nil
}

func (c *chainInstance) GetOutAudioFormat() audiocore.AudioFormat { return c.out }

func (c *chainInstance) Reset() {
	for _, inst := range c.instances {
		inst.Reset()
	}
}

func (c *chainInstance) FilterPCM(src []byte) ([]byte, error) {
	buf := src
	for _, inst := range c.instances {
		var err error
		buf, err = inst.FilterPCM(buf)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func (c *chainInstance) Flush() ([]byte, error) {
	// Flush drains tail-to-head: a resampler near the front may produce
	// a final partial block only the stages after it have not yet seen.
	var out []byte
	for i := len(c.instances) - 1; i >= 0; i-- {
		tail, err := c.instances[i].Flush()
		if err != nil {
			return nil, err
		}
		if len(tail) == 0 {
			continue
		}
		for j := i + 1; j < len(c.instances); j++ {
			tail, err = c.instances[j].FilterPCM(tail)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, tail...)
	}
	return out, nil
}

func (c *chainInstance) Close() {
	for _, inst := range c.instances {
		inst.Close()
	}
}
