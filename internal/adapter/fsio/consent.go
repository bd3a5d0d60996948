package fsio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"memlog/internal/domain"
)

// PromptFunc asks the user whether appID may use the shared memory log.
type PromptFunc func(ctx context.Context, appID string) (bool, error)

// ConsentGate wraps a FileSystem with an advisory consent record persisted as
// JSON through that same FileSystem. HasAccess reports the recorded decision;
// RequestAccess prompts and records a grant. File operations pass through
// unchanged.
type ConsentGate struct {
	domain.FileSystem

	mu      sync.Mutex
	path    string
	appID   string
	prompt  PromptFunc
	consent domain.ConsentState
}

// NewConsentGate loads the consent record at path. A missing or unreadable
// record means consent has not been granted.
func NewConsentGate(ctx context.Context, inner domain.FileSystem, path, appID string, prompt PromptFunc) *ConsentGate {
	g := &ConsentGate{
		FileSystem: inner,
		path:       path,
		appID:      appID,
		prompt:     prompt,
	}
	g.load(ctx)
	return g
}

func (g *ConsentGate) load(ctx context.Context) {
	text, err := g.FileSystem.Read(ctx, g.path)
	if err != nil {
		return
	}
	var state domain.ConsentState
	if json.Unmarshal([]byte(text), &state) == nil {
		g.consent = state
	}
}

func (g *ConsentGate) save(ctx context.Context) error {
	if err := g.FileSystem.EnsureDirectory(ctx, filepath.Dir(g.path)); err != nil {
		return err
	}
	data, err := json.MarshalIndent(g.consent, "", "  ")
	if err != nil {
		return err
	}
	return g.FileSystem.Write(ctx, g.path, string(data))
}

// Consent returns the recorded consent state.
func (g *ConsentGate) Consent() domain.ConsentState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.consent
}

func (g *ConsentGate) HasAccess(context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.consent.Granted, nil
}

// RequestAccess prompts for consent when none is recorded. Without a prompt
// function the request is denied.
func (g *ConsentGate) RequestAccess(ctx context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.consent.Granted {
		return true, nil
	}
	if g.prompt == nil {
		return false, nil
	}
	ok, err := g.prompt(ctx, g.appID)
	if err != nil {
		return false, fmt.Errorf("consent prompt: %w", err)
	}
	if !ok {
		return false, nil
	}

	g.consent = domain.ConsentState{
		Granted:   true,
		GrantedAt: time.Now().UTC().Format(time.RFC3339),
		GrantedTo: g.appID,
	}
	if err := g.save(ctx); err != nil {
		return false, fmt.Errorf("save consent: %w", err)
	}
	return true, nil
}

// Grant records consent without prompting.
func (g *ConsentGate) Grant(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consent = domain.ConsentState{
		Granted:   true,
		GrantedAt: time.Now().UTC().Format(time.RFC3339),
		GrantedTo: g.appID,
	}
	if err := g.save(ctx); err != nil {
		return fmt.Errorf("save consent: %w", err)
	}
	return nil
}

// Revoke withdraws consent.
func (g *ConsentGate) Revoke(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consent = domain.ConsentState{Granted: false}
	if err := g.save(ctx); err != nil {
		return fmt.Errorf("save consent: %w", err)
	}
	return nil
}

// CreateExclusive forwards to the wrapped filesystem when it supports
// exclusive creation, otherwise checks existence before writing. Without
// exclusive creation an empty text is appended so a file a peer created after
// the check is not truncated.
func (g *ConsentGate) CreateExclusive(ctx context.Context, path, text string) (bool, error) {
	if ec, ok := g.FileSystem.(domain.ExclusiveCreator); ok {
		return ec.CreateExclusive(ctx, path, text)
	}
	exists, err := g.FileSystem.Exists(ctx, path)
	if err != nil || exists {
		return false, err
	}
	if text == "" {
		return true, g.FileSystem.Append(ctx, path, "")
	}
	return true, g.FileSystem.Write(ctx, path, text)
}

// Rename forwards to the wrapped filesystem when it supports renames,
// otherwise copies then deletes.
func (g *ConsentGate) Rename(ctx context.Context, from, to string) error {
	if r, ok := g.FileSystem.(domain.Renamer); ok {
		return r.Rename(ctx, from, to)
	}
	text, err := g.FileSystem.Read(ctx, from)
	if err != nil {
		return err
	}
	if err := g.FileSystem.Write(ctx, to, text); err != nil {
		return err
	}
	if err := g.FileSystem.Delete(ctx, from); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
