package identify

import (
	"errors"
	"fmt"
	"image"
)

// FeatureProvider turns a decoded face crop into an embedding.
// Implementations must return Dim() values for every successful call and
// fail with ErrInvalidInput for a nil or zero-area image.
type FeatureProvider interface {
	Name() string
	Dim() int
	Embed(img image.Image) (Embedding, error)
}

// Pool fans Embed calls out over several instances of one provider.
// Each instance serves a single call at a time, which is what inference
// sessions with bound input tensors require. Embed blocks while every
// instance is busy.
type Pool struct {
	name  string
	dim   int
	idle  chan FeatureProvider
	items []FeatureProvider
}

// NewPool groups instances of the same provider. All of them must agree on
// Name and Dim so their embeddings are comparable.
func NewPool(instances ...FeatureProvider) (*Pool, error) {
	if len(instances) == 0 {
		return nil, errors.New("provider pool needs at least one instance")
	}
	first := instances[0]
	p := &Pool{
		name:  first.Name(),
		dim:   first.Dim(),
		idle:  make(chan FeatureProvider, len(instances)),
		items: instances,
	}
	for i, inst := range instances {
		if inst.Name() != p.name || inst.Dim() != p.dim {
			return nil, fmt.Errorf("pool instance %d is %s/%d, want %s/%d", i, inst.Name(), inst.Dim(), p.name, p.dim)
		}
		p.idle <- inst
	}
	return p, nil
}

func (p *Pool) Name() string { return p.name }
func (p *Pool) Dim() int     { return p.dim }
func (p *Pool) Size() int    { return len(p.items) }

func (p *Pool) Embed(img image.Image) (Embedding, error) {
	inst := <-p.idle
	defer func() { p.idle <- inst }()
	return inst.Embed(img)
}

// Close releases every instance that implements Close. It must not be
// called while Embed calls are in flight.
func (p *Pool) Close() {
	for _, inst := range p.items {
		if c, ok := inst.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

// ValidateImage reports ErrInvalidInput for nil or zero-area images.
func ValidateImage(img image.Image) error {
	if img == nil || img.Bounds().Empty() {
		return ErrInvalidInput
	}
	return nil
}
