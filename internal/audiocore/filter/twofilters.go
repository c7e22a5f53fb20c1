package filter

import (
	"github.com/tphakala/birdnet-go/internal/audiocore"
	"github.com/tphakala/birdnet-go/internal/errors"
)

// TwoFiltersFilter composes two already-opened filters left-then-right,
// checking that the left's output format matches what the right
// actually requires as input. Used where a fixed pair of stages (e.g.
// a ReplayGain filter feeding a Volume filter) needs to be handled as
// one unit by code that only knows about a single PreparedFilter.
type TwoFiltersFilter struct {
	left  PreparedFilter
	right PreparedFilter
}

// NewTwoFilters composes two already-constructed PreparedFilter
// instances; left must not yet be Open()ed (TwoFilters owns that).
func NewTwoFilters(left, right PreparedFilter) *TwoFiltersFilter {
	return &TwoFiltersFilter{left: left, right: right}
}

func (t *TwoFiltersFilter) Open(in audiocore.AudioFormat) (audiocore.AudioFormat, error) {
	leftIn, err := t.left.Open(in)
	if err != nil {
		return audiocore.AudioFormat{}, err
	}
	leftOut := t.left.GetOutAudioFormat()
	rightIn, err := t.right.Open(leftOut)
	if err != nil {
		t.left.Close()
		return audiocore.AudioFormat{}, err
	}
	if rightIn != leftOut {
		t.left.Close()
		return audiocore.AudioFormat{}, errors.New(audiocore.ErrFormatMismatch).
			Component("filter").
			Category(errors.CategoryAudio).
			Context("left_out", leftOut.String()).
			Context("right_in", rightIn.String()).
			Build()
	}
	return leftIn, nil
}

func (t *TwoFiltersFilter) GetOutAudioFormat() audiocore.AudioFormat {
	return t.right.GetOutAudioFormat()
}

func (t *TwoFiltersFilter) Reset() {
	t.left.Reset()
	t.right.Reset()
}

func (t *TwoFiltersFilter) FilterPCM(src []byte) ([]byte, error) {
	mid, err := t.left.FilterPCM(src)
	if err != nil {
		return nil, err
	}
	return t.right.FilterPCM(mid)
}

func (t *TwoFiltersFilter) Flush() ([]byte, error) {
	leftTail, err := t.left.Flush()
	if err != nil {
		return nil, err
	}
	var fromLeftTail []byte
	if len(leftTail) > 0 {
		fromLeftTail, err = t.right.FilterPCM(leftTail)
		if err != nil {
			return nil, err
		}
	}
	rightTail, err := t.right.Flush()
	if err != nil {
		return nil, err
	}
	return append(fromLeftTail, rightTail...), nil
}

func (t *TwoFiltersFilter) Close() {
	t.left.Close()
	t.right.Close()
}
