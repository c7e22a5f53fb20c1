package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tphakala/birdnet-go/internal/audiocore"
	"github.com/tphakala/birdnet-go/internal/errors"
)

// RouteFilter copies input channels to output channels per an explicit
// table, e.g. "0>0,0>1" duplicates the mono input onto both channels
// of a stereo output; "0>0,1>0" folds stereo down to mono by dropping
// the left channel (pairs apply in order and the last writer to a
// destination wins, no mixing).
type RouteFilter struct {
	name  string
	pairs []routePair
	outCh int
}

type routePair struct{ src, dst int }

// NewRouteFilter parses "src>dst,src>dst,..." into a template; outCh is
// the output channel count, always one greater than the largest dst in
// the table.
func NewRouteFilter(name, table string) (*RouteFilter, error) {
	pairs, outCh, err := parseRouteTable(table)
	if err != nil {
		return nil, errors.New(err).
			Component("filter").
			Category(errors.CategoryValidation).
			Context("filter", "route").
			Context("table", table).
			Build()
	}
	return &RouteFilter{name: name, pairs: pairs, outCh: outCh}, nil
}

func parseRouteTable(table string) ([]routePair, int, error) {
	var pairs []routePair
	maxDst := -1
	for _, tok := range strings.Split(table, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		parts := strings.SplitN(tok, ">", 2)
		if len(parts) != 2 {
			return nil, 0, fmt.Errorf("route: malformed pair %q", tok)
		}
		src, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, 0, fmt.Errorf("route: invalid source channel %q: %w", parts[0], err)
		}
		dst, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, 0, fmt.Errorf("route: invalid destination channel %q: %w", parts[1], err)
		}
		pairs = append(pairs, routePair{src: src, dst: dst})
		if dst > maxDst {
			maxDst = dst
		}
	}
	if len(pairs) == 0 {
		return nil, 0, fmt.Errorf("route: empty table")
	}
	return pairs, maxDst + 1, nil
}

func (f *RouteFilter) Name() string { return f.name }

func (f *RouteFilter) Prepare() PreparedFilter {
	return &routeInstance{filter: f}
}

type routeInstance struct {
	filter *RouteFilter
	in     audiocore.AudioFormat
	out    audiocore.AudioFormat
}

func (r *routeInstance) Open(in audiocore.AudioFormat) (audiocore.AudioFormat, error) {
	for _, p := range r.filter.pairs {
		if p.src < 0 || p.src >= int(in.Channels) {
			return audiocore.AudioFormat{}, errors.New(audiocore.ErrInvalidAudioFormat).
				Component("filter").
				Category(errors.CategoryAudio).
				Context("filter", "route").
				Context("src_channel", p.src).
				Context("in_channels", in.Channels).
				Build()
		}
	}
	r.in = in
	r.out = in
	r.out.Channels = uint8(r.filter.outCh)
	return in, nil
}

func (r *routeInstance) GetOutAudioFormat() audiocore.AudioFormat { return r.out }

func (r *routeInstance) Reset() {}

func (r *routeInstance) FilterPCM(src []byte) ([]byte, error) {
	fs := r.in.SampleSize()
	inCh := int(r.in.Channels)
	outCh := int(r.out.Channels)
	if fs == 0 || inCh == 0 {
		return src, nil
	}
	frames := len(src) / (fs * inCh)
	dst := make([]byte, frames*outCh*fs)
	for i := 0; i < frames; i++ {
		for _, p := range r.filter.pairs {
			srcOff := i*inCh*fs + p.src*fs
			dstOff := i*outCh*fs + p.dst*fs
			copy(dst[dstOff:dstOff+fs], src[srcOff:srcOff+fs])
		}
	}
	return dst, nil
}

func (r *routeInstance) Flush() ([]byte, error) { return nil, nil }

func (r *routeInstance) Close() {}
