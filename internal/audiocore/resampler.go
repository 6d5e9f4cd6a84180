package audiocore

import "math"

// linearConverter converts interleaved float32 frames between two rates by
// linear interpolation. pos is the fractional read position into the next
// input block and carries across calls.
type linearConverter struct {
	channels    int
	ratio       float64 // input frames per output frame
	pos         float64
	passthrough bool
}

func newLinearConverter(inRate, outRate uint32, channels int) *linearConverter {
	return &linearConverter{
		channels:    channels,
		ratio:       float64(inRate) / float64(outRate),
		passthrough: inRate == outRate,
	}
}

// convert reads at most inFrames frames from in and writes at most maxOut
// frames to out. It returns the input frames consumed and output frames
// produced. Frames still needed for interpolation are not consumed.
func (c *linearConverter) convert(in []float32, inFrames int, out []float32, maxOut int) (consumed, produced int) {
	ch := c.channels
	if c.passthrough {
		n := min(inFrames, maxOut)
		copy(out[:n*ch], in[:n*ch])
		return n, n
	}

	for produced < maxOut {
		x := c.pos + float64(produced)*c.ratio
		i := int(x)
		frac := float32(x - float64(i))
		last := i
		if frac > 0 {
			last = i + 1
		}
		if last >= inFrames {
			break
		}
		dst := out[produced*ch : (produced+1)*ch]
		src := in[i*ch : (i+1)*ch]
		if frac == 0 {
			copy(dst, src)
		} else {
			next := in[(i+1)*ch : (i+2)*ch]
			for k := range dst {
				dst[k] = src[k] + (next[k]-src[k])*frac
			}
		}
		produced++
	}

	end := c.pos + float64(produced)*c.ratio
	consumed = min(int(end), inFrames)
	c.pos = end - float64(consumed)
	return consumed, produced
}

// framesNeeded returns the input frames required to produce n output frames
// from the current position.
func (c *linearConverter) framesNeeded(n int) int {
	if n <= 0 {
		return 0
	}
	if c.passthrough {
		return n
	}
	x := c.pos + float64(n-1)*c.ratio
	i := int(x)
	if x > float64(i) {
		return i + 2
	}
	return i + 1
}

// maxProducible returns an upper bound on the output frames inFrames input frames can yield
func (c *linearConverter) maxProducible(inFrames int) int {
	if c.passthrough {
		return inFrames
	}
	return int(math.Ceil(float64(inFrames)/c.ratio)) + 1
}

// pendingConverter keeps input frames the converter has not consumed yet
type pendingConverter struct {
	conv    *linearConverter
	pending []float32
}

func newPendingConverter(inRate, outRate uint32, channels, capacityFrames int) *pendingConverter {
	return &pendingConverter{
		conv:    newLinearConverter(inRate, outRate, channels),
		pending: make([]float32, 0, capacityFrames*channels),
	}
}

func (p *pendingConverter) push(samples []float32) {
	p.pending = append(p.pending, samples...)
}

func (p *pendingConverter) pendingFrames() int {
	return len(p.pending) / p.conv.channels
}

// drain converts pending frames into out and keeps the unconsumed remainder
func (p *pendingConverter) drain(out []float32, maxOut int) int {
	consumed, produced := p.conv.convert(p.pending, p.pendingFrames(), out, maxOut)
	if consumed > 0 {
		n := copy(p.pending, p.pending[consumed*p.conv.channels:])
		p.pending = p.pending[:n]
	}
	return produced
}

// fillFunc is the application data callback as seen by the resampler
type fillFunc func(input, output []float32, frames int) int

// Resampler bridges hardware rates and the application's rate. Each Fill
// invokes the data callback at most once.
type Resampler struct {
	targetRate  uint32
	inChannels  int
	outChannels int

	// in converts capture frames for duplex streams. The capture buffer keeps
	// the unconsumed frames, so no pending storage is needed.
	in *linearConverter

	// inOnly converts capture frames for input-only streams
	inOnly *pendingConverter

	// out converts application frames to the output hardware rate
	out *pendingConverter

	cb     fillFunc
	appIn  []float32
	appOut []float32
}

// ResamplerConfig describes both directions of a stream. A zero channel count disables that direction.
type ResamplerConfig struct {
	InputRate      uint32 // input hardware rate
	OutputRate     uint32 // output hardware rate
	TargetRate     uint32 // rate the data callback runs at
	InputChannels  int
	OutputChannels int
	MaxFrames      int
}

// NewResampler builds a resampler that calls cb from Fill
func NewResampler(cfg ResamplerConfig, cb fillFunc) (*Resampler, error) {
	if cb == nil {
		return nil, newError(KindResamplerFailure, "resampler_init", nil, "data callback is nil").Build()
	}
	if cfg.TargetRate == 0 || (cfg.InputChannels > 0 && cfg.InputRate == 0) || (cfg.OutputChannels > 0 && cfg.OutputRate == 0) {
		return nil, newError(KindResamplerFailure, "resampler_init", nil,
			"invalid rates: input %d, output %d, target %d", cfg.InputRate, cfg.OutputRate, cfg.TargetRate).Build()
	}
	if cfg.InputChannels == 0 && cfg.OutputChannels == 0 {
		return nil, newError(KindResamplerFailure, "resampler_init", nil, "resampler has no direction").Build()
	}

	maxFrames := max(cfg.MaxFrames, SafeMinLatencyFrames)
	r := &Resampler{
		targetRate:  cfg.TargetRate,
		inChannels:  cfg.InputChannels,
		outChannels: cfg.OutputChannels,
		cb:          cb,
	}

	if cfg.OutputChannels > 0 {
		r.out = newPendingConverter(cfg.TargetRate, cfg.OutputRate, cfg.OutputChannels, maxFrames*2)
		r.appOut = make([]float32, 0, maxFrames*2*cfg.OutputChannels)
		if cfg.InputChannels > 0 {
			r.in = newLinearConverter(cfg.InputRate, cfg.TargetRate, cfg.InputChannels)
		}
	} else {
		r.inOnly = newPendingConverter(cfg.InputRate, cfg.TargetRate, cfg.InputChannels, maxFrames*2)
	}
	if cfg.InputChannels > 0 {
		r.appIn = make([]float32, 0, maxFrames*2*cfg.InputChannels)
	}
	return r, nil
}

// TargetRate is the rate the data callback runs at
func (r *Resampler) TargetRate() uint32 {
	return r.targetRate
}

// Fill runs one tick. For streams with output it produces up to outputFrames
// frames into output and sets *inputFrames to the capture frames consumed.
// For input-only streams output is nil and the return value is *inputFrames
// when the callback accepted everything. A negative callback result is returned as is.
func (r *Resampler) Fill(input []float32, inputFrames *int, output []float32, outputFrames int) int {
	if r.out == nil {
		return r.fillInputOnly(input, inputFrames)
	}

	target := max(r.out.conv.framesNeeded(outputFrames)-r.out.pendingFrames(), 0)

	var appIn []float32
	if r.in != nil {
		r.appIn = grow(r.appIn, target*r.inChannels)
		appIn = r.appIn[:target*r.inChannels]
		available := 0
		if inputFrames != nil {
			available = *inputFrames
		}
		consumed, produced := r.in.convert(input, available, appIn, target)
		clear(appIn[produced*r.inChannels:])
		if inputFrames != nil {
			*inputFrames = consumed
		}
	}

	got := 0
	if target > 0 {
		r.appOut = grow(r.appOut, target*r.outChannels)
		appOut := r.appOut[:target*r.outChannels]
		got = r.cb(appIn, appOut, target)
		if got < 0 {
			return got
		}
		got = min(got, target)
		r.out.push(appOut[:got*r.outChannels])
	}

	return r.out.drain(output, outputFrames)
}

func (r *Resampler) fillInputOnly(input []float32, inputFrames *int) int {
	if inputFrames == nil || *inputFrames == 0 {
		return 0
	}
	frames := *inputFrames
	r.inOnly.push(input[:frames*r.inChannels])

	maxOut := r.inOnly.conv.maxProducible(r.inOnly.pendingFrames())
	r.appIn = grow(r.appIn, maxOut*r.inChannels)
	produced := r.inOnly.drain(r.appIn[:maxOut*r.inChannels], maxOut)
	if produced == 0 {
		return frames
	}

	got := r.cb(r.appIn[:produced*r.inChannels], nil, produced)
	if got < 0 {
		return got
	}
	if got == produced {
		return frames
	}
	return got
}

// grow returns buf with capacity for at least n elements
func grow(buf []float32, n int) []float32 {
	if cap(buf) >= n {
		return buf
	}
	return make([]float32, 0, n)
}
