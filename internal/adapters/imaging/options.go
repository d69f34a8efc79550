package imaging

// Option applies a configuration option to the Processor.
type Option func(*Processor)

// WithMaxUpload caps the raw upload size in bytes.
func WithMaxUpload(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxUpload = n
		}
	}
}

// WithBudget sets the target size of the compressed JPEG.
func WithBudget(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.budget = n
		}
	}
}

// WithMaxDimension bounds the longest side before compression.
func WithMaxDimension(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxDimension = n
		}
	}
}

// WithMaxPixels bounds width times height of an accepted upload.
func WithMaxPixels(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxPixels = n
		}
	}
}
