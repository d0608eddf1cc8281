package provider

import (
	"context"
	"time"

	"github.com/refuturo/refuturo/pkg/models"
)

// Dev is the offline provider used by dev mode. It echoes the submitted
// image back instead of calling the API, so the full edit/undo/history
// flow can be exercised without spending quota.
type Dev struct {
	// Delay simulates network latency when non-zero.
	Delay time.Duration
}

func NewDev() *Dev {
	return &Dev{}
}

func (d *Dev) Name() string {
	return "dev"
}

func (d *Dev) wait(ctx context.Context) error {
	if d.Delay <= 0 {
		return nil
	}
	select {
	case <-time.After(d.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dev) GenerateVariants(ctx context.Context, req *models.GenerateRequest) (*models.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := d.wait(ctx); err != nil {
		return nil, err
	}

	resp := &models.Response{Requested: req.Count}
	for i := 0; i < req.Count; i++ {
		data := make([]byte, len(req.Image))
		copy(data, req.Image)
		resp.Images = append(resp.Images, models.GeneratedImage{
			Data:     data,
			MimeType: req.MimeType,
			Index:    i,
		})
	}
	return resp, nil
}

func (d *Dev) RefineWithPrompt(ctx context.Context, req *models.RefineRequest) (*models.GeneratedImage, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := d.wait(ctx); err != nil {
		return nil, err
	}

	data := make([]byte, len(req.Image))
	copy(data, req.Image)
	return &models.GeneratedImage{Data: data, MimeType: req.MimeType}, nil
}

func (d *Dev) RefineWithMask(ctx context.Context, req *models.MaskRequest) (*models.GeneratedImage, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := d.wait(ctx); err != nil {
		return nil, err
	}

	data := make([]byte, len(req.Image))
	copy(data, req.Image)
	return &models.GeneratedImage{Data: data, MimeType: req.MimeType}, nil
}
