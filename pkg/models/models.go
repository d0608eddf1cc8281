package models

import (
	"errors"
	"time"
)

var (
	ErrNoSourceImage       = errors.New("source image is required")
	ErrMissingPrompt       = errors.New("scenario description or custom prompt is required")
	ErrMissingModification = errors.New("modification prompt cannot be empty")
	ErrNoVariantSelected   = errors.New("no generated variant is selected")
	ErrNoMaskImage         = errors.New("mask image is required")
	ErrInvalidCount        = errors.New("count must be at least 1")
	ErrCountExceedsMax     = errors.New("count exceeds maximum variants per generation")
)

// MaxVariants bounds how many parallel variants one generation may request.
const MaxVariants = 4

// EditKind classifies a point in the edit lineage.
type EditKind string

const (
	KindInitial    EditKind = "initial"
	KindRefinement EditKind = "refinement"
	KindMaskEdit   EditKind = "mask_edit"
)

func (k EditKind) String() string {
	return string(k)
}

// Label returns a short human-readable name for display in history listings.
func (k EditKind) Label() string {
	switch k {
	case KindInitial:
		return "generation"
	case KindRefinement:
		return "text refinement"
	case KindMaskEdit:
		return "mask edit"
	default:
		return string(k)
	}
}

// Scenario is a named narrative direction that contributes to the
// generation prompt, e.g. an optimistic or pessimistic future.
type Scenario struct {
	Label       string `json:"label"`
	Value       string `json:"value"`
	Description string `json:"description"`
}

// HistoryEntry records one successful edit. Entries are immutable once
// created; the snapshot store holds the full variant set keyed by ID.
type HistoryEntry struct {
	ID                 string    `json:"id"`
	Timestamp          time.Time `json:"timestamp"`
	Kind               EditKind  `json:"kind"`
	Prompt             string    `json:"prompt"`
	ThumbnailURL       string    `json:"thumbnailUrl"`
	ActiveVariantIndex int       `json:"activeVariantIndex"`
}

// GenerateRequest asks a provider for count independent variants of the
// source image under one prompt.
type GenerateRequest struct {
	Image    []byte
	MimeType string
	Prompt   string
	Count    int
}

func NewGenerateRequest(image []byte, mimeType, prompt string) *GenerateRequest {
	return &GenerateRequest{
		Image:    image,
		MimeType: mimeType,
		Prompt:   prompt,
		Count:    1,
	}
}

func (r *GenerateRequest) Validate() error {
	if len(r.Image) == 0 {
		return ErrNoSourceImage
	}
	if r.Prompt == "" {
		return ErrMissingPrompt
	}
	if r.Count < 1 {
		return ErrInvalidCount
	}
	if r.Count > MaxVariants {
		return ErrCountExceedsMax
	}
	return nil
}

// RefineRequest asks a provider to apply a text-guided edit to one image.
type RefineRequest struct {
	Image    []byte
	MimeType string
	Prompt   string
}

func (r *RefineRequest) Validate() error {
	if len(r.Image) == 0 {
		return ErrNoSourceImage
	}
	if r.Prompt == "" {
		return ErrMissingModification
	}
	return nil
}

// MaskRequest asks a provider to apply an edit constrained to a painted
// region. The mask is opaque to this package; it is produced elsewhere.
type MaskRequest struct {
	Image    []byte
	MimeType string
	Mask     []byte
	Prompt   string
}

func (r *MaskRequest) Validate() error {
	if len(r.Image) == 0 {
		return ErrNoSourceImage
	}
	if len(r.Mask) == 0 {
		return ErrNoMaskImage
	}
	if r.Prompt == "" {
		return ErrMissingModification
	}
	return nil
}

// GeneratedImage is one image returned by a provider.
type GeneratedImage struct {
	Data     []byte
	MimeType string
	Index    int
}

// Response carries the images produced by one provider call. A generation
// call may return fewer images than requested when only a subset of the
// parallel requests succeeded.
type Response struct {
	Images    []GeneratedImage
	Requested int
}
