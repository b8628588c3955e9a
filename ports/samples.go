package ports

import (
	"context"

	"alphabias/domain/sample"
)

// SampleSource loads the MC component samples and the observed data of a channel.
type SampleSource interface {
	Load(ctx context.Context, channel string) (*sample.Samples, error)
}
