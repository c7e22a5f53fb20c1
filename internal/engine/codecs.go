package engine

import (
	"path/filepath"
	"strings"

	"github.com/tphakala/birdnet-go/internal/audiocore/decoder"
	"github.com/tphakala/birdnet-go/internal/audiocore/decoder/flacdecoder"
	"github.com/tphakala/birdnet-go/internal/audiocore/decoder/wavdecoder"
	"github.com/tphakala/birdnet-go/internal/errors"
)

// codecRouter dispatches Decode to the registered plugin matching the
// URI's file extension, the single decoder.Plugin decoder.Run expects
// to hold for the pipeline's whole lifetime.
type codecRouter struct {
	byExt map[string]decoder.Plugin
}

// newCodecRouter registers the decoders this engine ships with built
// in (.wav and .flac); register is unexported, so further codecs can
// only be added inside this package.
func newCodecRouter() *codecRouter {
	r := &codecRouter{byExt: make(map[string]decoder.Plugin)}
	r.register(".wav", wavdecoder.New())
	r.register(".flac", flacdecoder.New())
	return r
}

func (r *codecRouter) register(ext string, p decoder.Plugin) {
	r.byExt[ext] = p
}

func (r *codecRouter) Decode(client decoder.DecoderClient, uri string) error {
	ext := strings.ToLower(filepath.Ext(uri))
	p, ok := r.byExt[ext]
	if !ok {
		return errors.Newf("engine: no decoder plugin registered for extension %q", ext).
			Component("engine").Category(errors.CategoryAudio).Context("uri", uri).Build()
	}
	return p.Decode(client, uri)
}
