package models

import (
	"errors"
	"testing"
)

func TestGenerateRequest_Validate(t *testing.T) {
	valid := func() *GenerateRequest {
		return &GenerateRequest{
			Image:    []byte("img"),
			MimeType: "image/png",
			Prompt:   "a street",
			Count:    2,
		}
	}

	if err := valid().Validate(); err != nil {
		t.Errorf("Validate() on valid request = %v, want nil", err)
	}

	tests := []struct {
		name    string
		mutate  func(*GenerateRequest)
		wantErr error
	}{
		{"missing image", func(r *GenerateRequest) { r.Image = nil }, ErrNoSourceImage},
		{"missing prompt", func(r *GenerateRequest) { r.Prompt = "" }, ErrMissingPrompt},
		{"zero count", func(r *GenerateRequest) { r.Count = 0 }, ErrInvalidCount},
		{"negative count", func(r *GenerateRequest) { r.Count = -1 }, ErrInvalidCount},
		{"count over max", func(r *GenerateRequest) { r.Count = MaxVariants + 1 }, ErrCountExceedsMax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(req)
			if err := req.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewGenerateRequest_Defaults(t *testing.T) {
	req := NewGenerateRequest([]byte("img"), "image/jpeg", "prompt")
	if req.Count != 1 {
		t.Errorf("Count = %d, want 1", req.Count)
	}
	if err := req.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestRefineRequest_Validate(t *testing.T) {
	req := &RefineRequest{Image: []byte("img"), MimeType: "image/png", Prompt: "more trees"}
	if err := req.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}

	req = &RefineRequest{Prompt: "more trees"}
	if err := req.Validate(); !errors.Is(err, ErrNoSourceImage) {
		t.Errorf("Validate() = %v, want ErrNoSourceImage", err)
	}

	req = &RefineRequest{Image: []byte("img")}
	if err := req.Validate(); !errors.Is(err, ErrMissingModification) {
		t.Errorf("Validate() = %v, want ErrMissingModification", err)
	}
}

func TestMaskRequest_Validate(t *testing.T) {
	valid := &MaskRequest{
		Image:    []byte("img"),
		MimeType: "image/png",
		Mask:     []byte("mask"),
		Prompt:   "remove the car",
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}

	noMask := &MaskRequest{Image: []byte("img"), Prompt: "remove the car"}
	if err := noMask.Validate(); !errors.Is(err, ErrNoMaskImage) {
		t.Errorf("Validate() = %v, want ErrNoMaskImage", err)
	}

	noPrompt := &MaskRequest{Image: []byte("img"), Mask: []byte("mask")}
	if err := noPrompt.Validate(); !errors.Is(err, ErrMissingModification) {
		t.Errorf("Validate() = %v, want ErrMissingModification", err)
	}
}

func TestEditKind_Label(t *testing.T) {
	tests := []struct {
		kind EditKind
		want string
	}{
		{KindInitial, "generation"},
		{KindRefinement, "text refinement"},
		{KindMaskEdit, "mask edit"},
		{EditKind("other"), "other"},
	}

	for _, tt := range tests {
		if got := tt.kind.Label(); got != tt.want {
			t.Errorf("Label(%s) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
