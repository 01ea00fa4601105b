package core

// ParseOption configures a parser call.
type ParseOption func(*parseOptions)

type parseOptions struct {
	keys       KeyGenerator
	sampleSize int
}

func buildParseOptions(opts []ParseOption) parseOptions {
	o := parseOptions{
		keys:       UUIDKeys{},
		sampleSize: DefaultSkipSampleSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithKeyGenerator overrides the generator used for missing image keys.
func WithKeyGenerator(g KeyGenerator) ParseOption {
	return func(o *parseOptions) {
		if g != nil {
			o.keys = g
		}
	}
}

// WithSkipSampleSize caps how many soft skips are kept verbatim.
func WithSkipSampleSize(n int) ParseOption {
	return func(o *parseOptions) {
		if n >= 0 {
			o.sampleSize = n
		}
	}
}
