package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/ShoshinNikita/filepreview/pkg/metrics"
	"github.com/ShoshinNikita/filepreview/pkg/rlog"
	"github.com/ShoshinNikita/filepreview/preview"
	"github.com/ShoshinNikita/filepreview/thumbnails"
)

type State string

const (
	StateUnresolved State = "unresolved"
	StateResolving  State = "resolving"
	StateResolved   State = "resolved"
	StateRendering  State = "rendering"
	StateRendered   State = "rendered"
	StateErrored    State = "errored"
)

// Settled reports whether no more transitions are expected for the current source.
func (s State) Settled() bool {
	switch s {
	case StateResolved, StateRendered, StateErrored:
		return true
	default:
		return false
	}
}

var ErrClosed = errors.New("session is closed")

type Resolver interface {
	Resolve(ctx context.Context, hint preview.FileType, src preview.Source, transport preview.Transport) preview.FileType
	NormalizeURL(ref string) (*url.URL, error)
}

type Thumbnailer interface {
	Generate(ctx context.Context, src preview.Source, transport preview.Transport, targetWidth int) (thumbnails.Thumbnail, error)
}

// Props describe what a session shows.
type Props struct {
	Source preview.Source
	// Type is an optional hint. It is trusted without any validation.
	Type preview.FileType

	PlaceholderImage string
	ErrorImage       string
	// Clarity is the width of PDF thumbnails. The default one is used if it is <= 0.
	Clarity int
	// Transport is used instead of the default one, can be nil.
	Transport preview.Transport
}

// Snapshot is a consistent view of a session.
type Snapshot struct {
	Generation uint64
	State      State
	Type       preview.FileType
	// SourceRef is the reference that can be used to load the source: an absolute url or
	// a local blob reference.
	SourceRef string
	Thumbnail *thumbnails.Thumbnail
	Err       error
	Props     Props
}

type Options struct {
	// DefaultClarity is used when props don't specify clarity.
	DefaultClarity int
}

// Session is a preview of a single source. When the source changes, all in-flight
// work for the previous one is canceled and its results are discarded.
type Session struct {
	resolver    Resolver
	thumbnailer Thumbnailer
	blobs       *BlobStore
	opts        Options

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	closed      bool
	snapshot    Snapshot
	cancelRun   context.CancelFunc
	releaseBlob func()
	// done is closed when the current generation settles.
	done    chan struct{}
	settled bool
	// memo holds resolved types by (source, hint). Blob keys are addresses, so blob
	// entries live only while their blob is the current source.
	memo map[memoKey]preview.FileType
}

type memoKey struct {
	source string
	hint   preview.FileType
	blob   bool
}

func New(resolver Resolver, thumbnailer Thumbnailer, blobs *BlobStore, opts Options) *Session {
	if opts.DefaultClarity <= 0 {
		opts.DefaultClarity = preview.DefaultClarity
	}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	close(done)

	metrics.SessionsActive.Inc()

	return &Session{
		resolver:    resolver,
		thumbnailer: thumbnailer,
		blobs:       blobs,
		opts:        opts,
		//
		ctx:    ctx,
		cancel: cancel,
		//
		snapshot: Snapshot{State: StateUnresolved},
		done:     done,
		settled:  true,
		memo:     make(map[memoKey]preview.FileType),
	}
}

// SetSource switches the session to new props. If the source, the hint and the clarity
// are the same, only the presentation props are updated. Otherwise, the previous work
// is canceled, and the new source is resolved (and rendered if it is a PDF).
func (s *Session) SetSource(props Props) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	prev := s.snapshot.Props
	if s.snapshot.Generation > 0 &&
		prev.Source.Key() == props.Source.Key() &&
		prev.Type == props.Type &&
		s.clarity(prev) == s.clarity(props) {

		s.snapshot.Props = props
		return nil
	}

	if s.cancelRun != nil {
		s.cancelRun()
	}
	s.release()
	if !s.settled {
		close(s.done)
	}
	for key := range s.memo {
		if key.blob && key.source != props.Source.Key() {
			delete(s.memo, key)
		}
	}

	ref := props.Source.URL()
	if props.Source.IsBlob() {
		ref, s.releaseBlob = s.blobs.Register(props.Source.Blob())
	} else if u, err := s.resolver.NormalizeURL(ref); err == nil {
		ref = u.String()
	}

	gen := s.snapshot.Generation + 1
	s.snapshot = Snapshot{
		Generation: gen,
		State:      StateResolving,
		SourceRef:  ref,
		Props:      props,
	}
	s.done = make(chan struct{})
	s.settled = false

	ctx, cancel := context.WithCancel(s.ctx)
	s.cancelRun = cancel

	go s.run(ctx, gen, props)

	return nil
}

func (s *Session) run(ctx context.Context, gen uint64, props Props) {
	fileType := s.resolve(ctx, props)

	if !s.commit(gen, func(snap *Snapshot) bool {
		snap.Type = fileType
		if fileType != preview.FileTypePDF {
			snap.State = StateResolved
			return true
		}
		snap.State = StateRendering
		return false
	}) {
		return
	}
	if fileType != preview.FileTypePDF {
		return
	}

	src := props.Source
	if !src.IsBlob() {
		// Relative references must be resolved before download.
		if u, err := s.resolver.NormalizeURL(src.URL()); err == nil {
			src = preview.URLSource(u.String())
		}
	}

	thumbnail, err := s.thumbnailer.Generate(ctx, src, props.Transport, s.clarity(props))

	s.commit(gen, func(snap *Snapshot) bool {
		if err != nil {
			snap.State = StateErrored
			snap.Err = err
			return true
		}
		snap.State = StateRendered
		snap.Thumbnail = &thumbnail
		return true
	})
}

func (s *Session) resolve(ctx context.Context, props Props) preview.FileType {
	key := memoKey{source: props.Source.Key(), hint: props.Type, blob: props.Source.IsBlob()}

	s.mu.Lock()
	fileType, ok := s.memo[key]
	s.mu.Unlock()
	if ok {
		return fileType
	}

	fileType = s.resolver.Resolve(ctx, props.Type, props.Source, props.Transport)

	s.mu.Lock()
	defer s.mu.Unlock()

	// The result of a canceled probe is not reliable. Runs are canceled under the lock,
	// so a superseded run can't store an entry after SetSource has pruned the memo.
	if ctx.Err() == nil {
		s.memo[key] = fileType
	}
	return fileType
}

// commit applies the update only if gen is still the current generation. update reports
// whether the session has settled.
func (s *Session) commit(gen uint64, update func(snap *Snapshot) (settled bool)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.snapshot.Generation != gen {
		metrics.SessionsStaleResults.Inc()
		rlog.Debugf("drop stale result of generation %d", gen)
		return false
	}

	if update(&s.snapshot) {
		s.settled = true
		close(s.done)
	}
	return true
}

// Wait blocks until the current source settles. If the source changes during waiting,
// Wait continues to wait for the new one.
func (s *Session) Wait(ctx context.Context) (Snapshot, error) {
	for {
		s.mu.Lock()
		done := s.done
		s.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return s.Snapshot(), ctx.Err()
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return Snapshot{}, ErrClosed
		}
		if s.done == done {
			snap := s.snapshot
			s.mu.Unlock()
			return snap, nil
		}
		s.mu.Unlock()
	}
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshot
}

// Close cancels all work and releases the blob reference. It is safe to call Close
// multiple times.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	s.cancel()
	s.release()
	if !s.settled {
		s.settled = true
		close(s.done)
	}
	clear(s.memo)

	metrics.SessionsActive.Dec()
}

func (s *Session) release() {
	if s.releaseBlob != nil {
		s.releaseBlob()
		s.releaseBlob = nil
	}
}

func (s *Session) clarity(props Props) int {
	if props.Clarity > 0 {
		return props.Clarity
	}
	return s.opts.DefaultClarity
}

func (snap Snapshot) String() string {
	return fmt.Sprintf("generation: %d, state: %s, type: %q", snap.Generation, snap.State, snap.Type)
}
