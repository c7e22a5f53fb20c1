package filter

import "github.com/tphakala/birdnet-go/internal/audiocore"

// AutoConvertFilter wraps a child filter template and transparently
// inserts a Convert stage in front of it whenever the caller's actual
// input format differs from what the child negotiated as its required
// input — so callers never need to know a filter's exact input
// requirements before opening it.
type AutoConvertFilter struct {
	name  string
	child Filter
}

func NewAutoConvertFilter(name string, child Filter) *AutoConvertFilter {
	return &AutoConvertFilter{name: name, child: child}
}

func (f *AutoConvertFilter) Name() string { return f.name }

func (f *AutoConvertFilter) Prepare() PreparedFilter {
	return &autoConvertInstance{filter: f, child: f.child.Prepare()}
}

type autoConvertInstance struct {
	filter  *AutoConvertFilter
	child   PreparedFilter
	convert PreparedFilter // nil unless the child required a narrower input
	out     audiocore.AudioFormat
}

func (a *autoConvertInstance) Open(in audiocore.AudioFormat) (audiocore.AudioFormat, error) {
	required, err := a.child.Open(in)
	if err != nil {
		return audiocore.AudioFormat{}, err
	}
	if required != in {
		conv := NewConvertFilter(a.filter.name+"/auto-convert", required).Prepare()
		if _, err := conv.Open(in); err != nil {
			return audiocore.AudioFormat{}, err
		}
		a.convert = conv
	}
	a.out = a.child.GetOutAudioFormat()
	return in, nil
}

func (a *autoConvertInstance) GetOutAudioFormat() audiocore.AudioFormat { return a.out }

func (a *autoConvertInstance) Reset() {
	if a.convert != nil {
		a.convert.Reset()
	}
	a.child.Reset()
}

func (a *autoConvertInstance) FilterPCM(src []byte) ([]byte, error) {
	if a.convert != nil {
		converted, err := a.convert.FilterPCM(src)
		if err != nil {
			return nil, err
		}
		return a.child.FilterPCM(converted)
	}
	return a.child.FilterPCM(src)
}

func (a *autoConvertInstance) Flush() ([]byte, error) {
	if a.convert == nil {
		return a.child.Flush()
	}
	tail, err := a.convert.Flush()
	if err != nil {
		return nil, err
	}
	childTail, err := a.child.Flush()
	if err != nil {
		return nil, err
	}
	if len(tail) == 0 {
		return childTail, nil
	}
	fromTail, err := a.child.FilterPCM(tail)
	if err != nil {
		return nil, err
	}
	return append(fromTail, childTail...), nil
}

func (a *autoConvertInstance) Close() {
	if a.convert != nil {
		a.convert.Close()
	}
	a.child.Close()
}
