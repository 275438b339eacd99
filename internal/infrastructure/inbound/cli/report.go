// Package cli computes a single meeting snapshot from a request file and
// prints the result.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sophialabs/meetpoint/internal/domain/meeting"
	"github.com/sophialabs/meetpoint/internal/infrastructure/outbound/report"
	"github.com/sophialabs/meetpoint/internal/infrastructure/usecases"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Request is the request file layout.
type Request struct {
	Participants []Participant           `yaml:"participants" validate:"required,max=32,unique=Name,dive"`
	Candidates   []usecases.CandidateRef `yaml:"candidates" validate:"required,max=32,dive"`
	Selected     string                  `yaml:"selected" validate:"max=64"`
}

// Participant is one person and the station they leave from.
type Participant struct {
	Name   string `yaml:"name" validate:"required,max=64"`
	Origin string `yaml:"origin" validate:"required,max=64"`
}

// ReadRequest decodes and validates a YAML request.
func ReadRequest(r io.Reader) (Request, error) {
	var req Request
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return Request{}, errors.New("request is empty")
		}
		return Request{}, fmt.Errorf("failed to parse request: %w", err)
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(req); err != nil {
		return Request{}, fmt.Errorf("invalid request: %w", err)
	}
	return req, nil
}

func (r Request) snapshotRequest() usecases.SnapshotRequest {
	participants := make([]meeting.Participant, len(r.Participants))
	for i, p := range r.Participants {
		participants[i] = meeting.Participant{Name: p.Name, Origin: p.Origin}
	}
	return usecases.SnapshotRequest{
		Participants: participants,
		Candidates:   r.Candidates,
		Selected:     r.Selected,
	}
}

// Runner computes reports synchronously.
type Runner struct {
	prepareUC *usecases.PrepareSnapshotUseCase
	engine    *usecases.MeetingEngine
	renderer  *report.Renderer
}

// NewRunner creates a Runner.
func NewRunner(prepareUC *usecases.PrepareSnapshotUseCase, engine *usecases.MeetingEngine, renderer *report.Renderer) *Runner {
	return &Runner{prepareUC: prepareUC, engine: engine, renderer: renderer}
}

// Run computes req and writes the result to w in the given format. Candidate
// names that could not be resolved are listed after the report.
func (r *Runner) Run(ctx context.Context, req Request, format string, w io.Writer) error {
	prepared, err := r.prepareUC.Execute(ctx, req.snapshotRequest())
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot: %w", err)
	}

	update, err := r.engine.Compute(ctx, prepared.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to compute meeting points: %w", err)
	}

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			meeting.Update
			Unresolved []string `json:"unresolved,omitempty"`
		}{update, prepared.Unresolved})
	case FormatText, "":
		if err := r.renderer.Render(w, update); err != nil {
			return err
		}
		if len(prepared.Unresolved) > 0 {
			_, err := fmt.Fprintf(w, "\nUnknown stations: %s\n", strings.Join(prepared.Unresolved, ", "))
			return err
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
