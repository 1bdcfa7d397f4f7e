// Package pipeline runs the acquisition and publish state machine: resolve the
// latest build, download the artifact pair, verify it and publish it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"

	"github.com/sap-gg/azrelay/internal"
	"github.com/sap-gg/azrelay/internal/azure"
	"github.com/sap-gg/azrelay/internal/config"
	"github.com/sap-gg/azrelay/internal/publish"
	"github.com/sap-gg/azrelay/internal/receipt"
)

// ErrLocked is returned when another run holds the working directory.
var ErrLocked = errors.New("working directory is locked by another run")

// BuildResolver locates builds and their artifacts.
type BuildResolver interface {
	ResolveDefinitionID(ctx context.Context, name string) (int, error)
	ResolveLatestBuildID(ctx context.Context, definitionID int, filter azure.BuildFilter) (int, error)
	ResolveArtifact(ctx context.Context, buildID int, name string) (*azure.ArtifactDescriptor, error)
}

// Downloader stores the content behind a URL in a local file.
type Downloader interface {
	Fetch(ctx context.Context, url, dst string) (string, error)
}

var _ BuildResolver = (*azure.Client)(nil)

// VerifiedPair is the extracted artifact together with its matching checksum file.
type VerifiedPair struct {
	ArtifactPath     string
	ChecksumFilePath string
	Expected         string
	Actual           string
}

// Result collects what the stages produced so far.
type Result struct {
	DefinitionID     int
	BuildID          int
	Artifact         *azure.ArtifactDescriptor
	ChecksumArtifact *azure.ArtifactDescriptor
	Pair             *VerifiedPair
	Release          *publish.Release
	// Uploads maps asset names to their download URLs.
	Uploads map[string]string
	Receipt *receipt.Receipt
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithUntil stops the run successfully after state completed.
func WithUntil(state State) Option {
	return func(p *Pipeline) {
		p.until = state
	}
}

// Pipeline is a single use run over one working directory.
type Pipeline struct {
	cfg        *config.Config
	resolver   BuildResolver
	downloader Downloader
	publisher  publish.Publisher
	until      State

	mu      sync.Mutex
	history []State
	result  Result
}

// New creates a pipeline. publisher may be nil if the run stops before Publishing.
func New(cfg *config.Config, resolver BuildResolver, downloader Downloader, publisher publish.Publisher, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:        cfg,
		resolver:   resolver,
		downloader: downloader,
		publisher:  publisher,
		until:      Done,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// History returns the states entered so far, in order.
func (p *Pipeline) History() []State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.history)
}

// State returns the current state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.history) == 0 {
		return ResolvingDefinition
	}
	return p.history[len(p.history)-1]
}

func (p *Pipeline) enter(state State) {
	p.mu.Lock()
	p.history = append(p.history, state)
	p.mu.Unlock()

	log.Debug().Stringer("state", state).Msg("entering state")
}

type stage struct {
	state State
	run   func(ctx context.Context) error
}

// Run executes the stages in order. On failure the returned error is a *StageError.
// The result is returned in both cases and holds what was produced.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if p.publisher == nil && p.until >= Publishing {
		return nil, fmt.Errorf("a publisher is required to run until %s", p.until)
	}

	if err := os.MkdirAll(p.cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating working directory: %w", err)
	}
	lock := flock.New(filepath.Join(p.cfg.WorkDir, internal.LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking working directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, p.cfg.WorkDir)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Warn().Err(err).Msg("could not release working directory lock")
		}
	}()

	stages := []stage{
		{ResolvingDefinition, p.resolveDefinition},
		{ResolvingBuild, p.resolveBuild},
		{ResolvingArtifacts, p.resolveArtifacts},
		{Downloading, p.download},
		{Unpacking, p.unpack},
		{VerifyingPair, p.verifyPair},
		{Publishing, p.publishPair},
	}

	for _, s := range stages {
		p.enter(s.state)
		if err := s.run(ctx); err != nil {
			p.enter(Failed)
			log.Error().Err(err).Stringer("state", s.state).Msg("pipeline failed")
			return &p.result, &StageError{State: s.state, Err: err}
		}
		if s.state == p.until {
			log.Info().Stringer("state", s.state).Msg("pipeline stopped")
			return &p.result, nil
		}
	}

	p.enter(Done)
	log.Info().
		Int("build", p.result.BuildID).
		Int("assets", len(p.result.Uploads)).
		Msg("pipeline done")
	return &p.result, nil
}
