package jobs

import (
	ports "github.com/ZanzyTHEbar/joblog/joblog/jobs/ports"
	"github.com/rs/zerolog"
)

// Option configures a Factory.
type Option func(*Factory)

// WithSerializer sets the serializer used for full results.
func WithSerializer(s ports.Serializer) Option {
	return func(f *Factory) { f.serializer = s }
}

// WithTracer sets the lifecycle tracer.
func WithTracer(t ports.Tracer) Option {
	return func(f *Factory) { f.tracer = t }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

type jobOptions struct {
	label          *string
	keepDuplicates bool
}

// JobOption configures Job and IterJobs.
type JobOption func(*jobOptions)

// WithLabel adds a label to the job identity. Jobs that differ only in label
// are not duplicates. An empty label is still a label.
func WithLabel(label string) JobOption {
	return func(o *jobOptions) { o.label = &label }
}

// KeepDuplicates makes IterJobs yield jobs that already have a record.
func KeepDuplicates() JobOption {
	return func(o *jobOptions) { o.keepDuplicates = true }
}

func applyJobOptions(opts []JobOption) jobOptions {
	var o jobOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
