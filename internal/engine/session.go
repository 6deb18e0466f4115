package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/taintline/taintline/internal/cache"
	"github.com/taintline/taintline/internal/findings"
	"github.com/taintline/taintline/internal/matcher"
	"github.com/taintline/taintline/internal/rules"
	"github.com/taintline/taintline/internal/types"
)

// State is a session's position in Idle → Scanning → Aggregating → Reported → Idle.
type State int

const (
	Idle State = iota
	Scanning
	Aggregating
	Reported
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Aggregating:
		return "aggregating"
	case Reported:
		return "reported"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

var (
	// ErrInvalidTransition is returned when a session method is called in
	// the wrong state.
	ErrInvalidTransition = errors.New("invalid session state transition")
	// ErrInvariant marks a programming error, such as a finding for a rule
	// that is not loaded. It aborts the session.
	ErrInvariant = errors.New("internal invariant violated")
)

// IOError reports a file that could not be read.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string { return fmt.Sprintf("read %s: %v", e.Path, e.Err) }

func (e *IOError) Unwrap() error { return e.Err }

// Session is one scan over a fixed rule set. Methods are safe to call from
// one goroutine at a time; Run fans out internally.
type Session struct {
	id    string
	cfg   Config
	rules *rules.RuleSet
	opts  options
	m     *matcher.Matcher
	log   *zap.Logger

	mu       sync.Mutex
	state    State
	agg      *findings.Aggregator
	started  time.Time
	duration time.Duration
}

// NewSession binds a loaded rule set to cfg. Rule loading happens before
// this call, so an invalid rule set never produces a session.
func NewSession(cfg Config, rs *rules.RuleSet, opts ...Option) (*Session, error) {
	if rs == nil {
		return nil, errors.New("engine: nil rule set")
	}
	o, err := resolve(opts)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	return &Session{
		id:    id,
		cfg:   cfg,
		rules: rs,
		opts:  o,
		m:     matcher.New(rs, o.catalog, o.classifier, o.remediations, matcher.WithRegistry(o.registry)),
		log:   o.logger.With(zap.String("session", id)),
		state: Idle,
		agg:   findings.New(),
	}, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Duration is the wall time of the last Run.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

func (s *Session) transition(from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return fmt.Errorf("%w: %s -> %s while %s", ErrInvalidTransition, from, to, s.state)
	}
	s.state = to
	return nil
}

func (s *Session) reset(to State) {
	s.mu.Lock()
	s.state = to
	s.mu.Unlock()
}

type target struct {
	rel  string
	data []byte // set for in-memory sources
}

// Run scans every target and leaves the session in Aggregating. Per-file
// parse, read and cancellation failures are recorded as skipped files; only
// walk failures and invariant violations abort, returning the session to
// Idle.
func (s *Session) Run(ctx context.Context) error {
	if err := s.transition(Idle, Scanning); err != nil {
		return err
	}
	s.agg = findings.New()
	s.started = time.Now()

	targets, err := s.targets(ctx)
	if err != nil {
		s.reset(Idle)
		return err
	}
	s.log.Debug("scan started", zap.Int("files", len(targets)), zap.Int("rules", s.rules.Len()), zap.Int("threads", s.cfg.threads()))

	var db cache.DB
	useCache := !s.cfg.NoCache && s.opts.sources == nil
	if useCache {
		db, _ = cache.Load(s.cfg.Root, strconv.FormatUint(s.rules.Hash(), 16))
	}
	var cacheMu sync.Mutex
	updated := map[string]cache.Entry{}

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.threads())
	for _, t := range targets {
		t := t
		if ctx.Err() != nil {
			s.agg.Skip(t.rel, findings.ReasonCancelled, ctx.Err())
			continue
		}
		g.Go(func() error {
			defer s.progress()
			entry, ok, err := s.scanFile(ctx, t, db)
			if err != nil || !ok {
				return err
			}
			if useCache {
				cacheMu.Lock()
				updated[t.rel] = entry
				cacheMu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.log.Error("scan aborted", zap.Error(err))
		s.reset(Idle)
		return err
	}

	if useCache && len(updated) > 0 {
		for k, v := range updated {
			db.Entries[k] = v
		}
		if err := cache.Save(s.cfg.Root, db); err != nil {
			s.log.Warn("cache not saved", zap.Error(err))
		}
	}

	s.mu.Lock()
	s.duration = time.Since(s.started)
	s.mu.Unlock()
	return s.transition(Scanning, Aggregating)
}

func (s *Session) progress() {
	if s.cfg.Progress != nil {
		s.cfg.Progress()
	}
}

func (s *Session) targets(ctx context.Context) ([]target, error) {
	if s.opts.sources != nil {
		var out []target
		for rel, data := range s.opts.sources {
			rel = filepath.ToSlash(rel)
			if !s.opts.registry.Supported(rel) || !allowedByGlobs(rel, s.cfg) {
				continue
			}
			out = append(out, target{rel: rel, data: data})
		}
		sortTargets(out)
		return out, nil
	}
	// listing finishes even after cancellation so that every selected file
	// is accounted for in the skipped list
	paths, err := Targets(context.WithoutCancel(ctx), s.cfg, s.opts.registry)
	if err != nil {
		return nil, err
	}
	out := make([]target, len(paths))
	for i, p := range paths {
		out[i] = target{rel: p}
	}
	return out, nil
}

// scanFile returns the cache entry for a completed file. ok is false when
// the file was skipped.
func (s *Session) scanFile(ctx context.Context, t target, db cache.DB) (cache.Entry, bool, error) {
	data := t.data
	if data == nil {
		b, err := os.ReadFile(filepath.Join(s.cfg.Root, filepath.FromSlash(t.rel)))
		if err != nil {
			ioErr := &IOError{Path: t.rel, Err: err}
			s.log.Warn("file skipped", zap.String("path", t.rel), zap.Error(ioErr))
			s.agg.Skip(t.rel, findings.ReasonIO, ioErr)
			return cache.Entry{}, false, nil
		}
		data = b
	}
	if err := ctx.Err(); err != nil {
		s.agg.Skip(t.rel, findings.ReasonCancelled, err)
		return cache.Entry{}, false, nil
	}
	if looksBinary(data) {
		return cache.Entry{}, false, nil
	}

	hash := cache.Hash(data)
	if fs, ok := db.Lookup(t.rel, hash); ok {
		s.agg.Add(fs...)
		s.agg.Scanned()
		return cache.Entry{Hash: hash, Findings: fs}, true, nil
	}

	a, ok := s.opts.registry.ForPath(t.rel)
	if !ok {
		return cache.Entry{}, false, nil
	}
	f, err := a.Parse(t.rel, data)
	if err != nil {
		s.log.Warn("file skipped", zap.String("path", t.rel), zap.Error(err))
		s.agg.Skip(t.rel, findings.ReasonFor(err), err)
		return cache.Entry{}, false, nil
	}
	if f.Repaired {
		s.log.Debug("invalid UTF-8 replaced", zap.String("path", t.rel))
	}
	fs, err := s.m.Match(ctx, f)
	if err != nil {
		if ctx.Err() != nil {
			s.agg.Skip(t.rel, findings.ReasonCancelled, ctx.Err())
			return cache.Entry{}, false, nil
		}
		return cache.Entry{}, false, fmt.Errorf("%w: %s: %v", ErrInvariant, t.rel, err)
	}
	if err := s.verify(fs); err != nil {
		return cache.Entry{}, false, fmt.Errorf("%w: %s: %v", ErrInvariant, t.rel, err)
	}
	// findings of a file abandoned mid-match are discarded
	if err := ctx.Err(); err != nil {
		s.agg.Skip(t.rel, findings.ReasonCancelled, err)
		return cache.Entry{}, false, nil
	}
	s.agg.Add(fs...)
	s.agg.Scanned()
	s.log.Debug("file scanned", zap.String("path", t.rel), zap.Int("findings", len(fs)))
	return cache.Entry{Hash: hash, Findings: fs}, true, nil
}

func (s *Session) verify(fs []types.Finding) error {
	for _, f := range fs {
		if _, ok := s.rules.Get(f.RuleID); !ok {
			return fmt.Errorf("finding for unknown rule %q", f.RuleID)
		}
	}
	return nil
}

// Report moves Aggregating → Reported and returns the sorted report.
func (s *Session) Report() (findings.Report, error) {
	if err := s.transition(Aggregating, Reported); err != nil {
		return findings.Report{}, err
	}
	rep := s.agg.Report()
	rep.SessionID = s.id
	rep.DurationMS = s.Duration().Milliseconds()
	s.log.Debug("scan reported",
		zap.Int("findings", rep.Summary.Total),
		zap.Int("skipped", len(rep.Skipped)),
		zap.Int("files", rep.FilesScanned))
	return rep, nil
}

// Close returns a reported session to Idle so it can run again.
func (s *Session) Close() error {
	return s.transition(Reported, Idle)
}
