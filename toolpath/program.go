package toolpath

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/fornellas/slogxt/log"
	"github.com/google/uuid"

	"github.com/fornellas/cncsender/gcode"
)

// Program is a loaded G-code program along with its toolpath.
type Program struct {
	ID       uuid.UUID
	Path     string
	Text     string
	Segments []MotionSegment
	blocks   []*gcode.Block
}

// LoadProgram parses and interprets the program text. path is informative only: it is not read.
func LoadProgram(ctx context.Context, path, text string) (*Program, error) {
	ctx, _ = log.MustWithAttrs(ctx, "path", path)
	blocks, err := gcode.ParseProgram(text)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	segments, err := InterpretBlocks(ctx, blocks)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Program{
		ID:       uuid.New(),
		Path:     path,
		Text:     text,
		Segments: segments,
		blocks:   blocks,
	}, nil
}

// Lines returns the lines to be streamed to the controller: one per block, with comments and
// spaces removed.
func (p *Program) Lines() []string {
	lines := make([]string, 0, len(p.blocks))
	for _, block := range p.blocks {
		if block.Empty() {
			continue
		}
		lines = append(lines, block.String())
	}
	return lines
}

// Duration is the time at the last segment.
func (p *Program) Duration() float64 {
	if len(p.Segments) == 0 {
		return 0
	}
	return p.Segments[len(p.Segments)-1].Time
}

// ProgramList holds loaded programs, in load order. It is safe for concurrent use.
type ProgramList struct {
	mu       sync.Mutex
	programs []*Program
}

func NewProgramList() *ProgramList {
	return &ProgramList{}
}

func (l *ProgramList) Add(program *Program) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.programs = append(l.programs, program)
}

func (l *ProgramList) Get(id uuid.UUID) (*Program, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := slices.IndexFunc(l.programs, func(p *Program) bool { return p.ID == id })
	if idx < 0 {
		return nil, false
	}
	return l.programs[idx], true
}

// Remove removes the program with given id, returning whether it was present.
func (l *ProgramList) Remove(id uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := slices.IndexFunc(l.programs, func(p *Program) bool { return p.ID == id })
	if idx < 0 {
		return false
	}
	l.programs = slices.Delete(l.programs, idx, idx+1)
	return true
}

// Programs returns all programs, in load order.
func (l *ProgramList) Programs() []*Program {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.programs)
}
