package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"hlskb/internal/blob"
	"hlskb/pkg/domain"
)

const (
	keyPrefix   = "rollback_"
	keySuffix   = ".yaml"
	fileStamp   = "20060102_150405"
	contentType = "application/yaml"

	// maxKeySuffix bounds the _2, _3, ... suffixes tried when manifests of
	// one batch share a timestamp second.
	maxKeySuffix = 99
)

// Confirmer asks the operator a yes/no question.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

// Logger is the subset of *slog.Logger the store uses.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Observer receives one call per manifest write.
type Observer interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Handle locates a persisted manifest.
type Handle struct {
	Key string
}

// RecordOptions tunes Record.
type RecordOptions struct {
	// Force writes a new manifest even when one exists for the same batch.
	Force bool
}

// Store persists manifests as YAML objects named rollback_<label>[_iter<n>]_<stamp>.yaml.
type Store struct {
	blobs    blob.Store
	confirm  Confirmer
	logger   Logger
	observer Observer
	now      func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithConfirmer sets who is asked before a duplicate batch is logged.
// Without one, duplicates are refused unless forced.
func WithConfirmer(c Confirmer) Option { return func(s *Store) { s.confirm = c } }

// WithLogger sets the store logger.
func WithLogger(l Logger) Option { return func(s *Store) { s.logger = l } }

// WithObserver reports write outcomes, typically to metrics.
func WithObserver(o Observer) Option { return func(s *Store) { s.observer = o } }

// WithClock overrides the time used for file names.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// NewStore wraps a blob backend.
func NewStore(blobs blob.Store, opts ...Option) *Store {
	s := &Store{
		blobs:  blobs,
		logger: discard{},
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FileName returns the object key for a batch written at at.
func FileName(label string, iteration *int, at time.Time) string {
	stamp := at.UTC().Format(fileStamp)
	if iteration != nil {
		return keyPrefix + label + "_iter" + strconv.Itoa(*iteration) + "_" + stamp + keySuffix
	}
	return keyPrefix + label + "_" + stamp + keySuffix
}

// MatchesFileName reports whether key is name or name with a _<n>
// disambiguation suffix.
func MatchesFileName(key, name string) bool {
	if key == name {
		return true
	}
	base := strings.TrimSuffix(name, keySuffix) + "_"
	if !strings.HasPrefix(key, base) || !strings.HasSuffix(key, keySuffix) {
		return false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(key, base), keySuffix))
	return err == nil && n >= 2
}

func suffixedKey(name string, n int) string {
	return strings.TrimSuffix(name, keySuffix) + "_" + strconv.Itoa(n) + keySuffix
}

// duplicatePattern matches earlier manifests of the same batch.
func duplicatePattern(label string, iteration *int) (glob.Glob, error) {
	pattern := keyPrefix + glob.QuoteMeta(label) + "_*" + keySuffix
	if iteration != nil {
		pattern = keyPrefix + glob.QuoteMeta(label) + "_iter" + strconv.Itoa(*iteration) + "_*" + keySuffix
	}
	return glob.Compile(pattern)
}

// Duplicates lists existing manifests for the same label and iteration.
func (s *Store) Duplicates(ctx context.Context, label string, iteration *int) ([]string, error) {
	g, err := duplicatePattern(label, iteration)
	if err != nil {
		return nil, fmt.Errorf("compile duplicate pattern: %w", err)
	}
	keys, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, k := range keys {
		if g.Match(k) {
			out = append(out, k)
		}
	}
	return out, nil
}

// Record validates m and writes it under a fresh key. An existing manifest for
// the same batch is a soft conflict: unless forced, the Confirmer decides and
// a refusal returns DuplicateBatchError.
func (s *Store) Record(ctx context.Context, m Manifest, opts RecordOptions) (h Handle, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "manifest.record", err == nil, start) }()
	if err := m.Validate(); err != nil {
		return Handle{}, err
	}
	if err := validateLabel(m.Project); err != nil {
		return Handle{}, err
	}
	existing, err := s.Duplicates(ctx, m.Project, m.Iteration)
	if err != nil {
		return Handle{}, err
	}
	if len(existing) > 0 {
		s.logger.Warn("similar manifest already exists", "label", m.Project, "existing", existing[0], "count", len(existing))
		if !opts.Force {
			ok, err := s.ask(fmt.Sprintf("Manifest for %s already exists (%s). Create new log anyway?", m.Project, existing[0]))
			if err != nil {
				return Handle{}, err
			}
			if !ok {
				return Handle{}, domain.DuplicateBatchError{Label: m.Project, Existing: existing}
			}
		}
	}
	at := s.now()
	if created, err := m.CreatedAt(); err == nil {
		at = created
	}
	name := FileName(m.Project, m.Iteration, at)
	key := name
	for n := 2; ; n++ {
		err := s.put(ctx, key, m, false)
		if err == nil {
			break
		}
		if !errors.Is(err, blob.ErrExists) || n > maxKeySuffix {
			return Handle{}, err
		}
		key = suffixedKey(name, n)
	}
	s.logger.Info("manifest recorded", "key", key, "records", len(m.Entries))
	return Handle{Key: key}, nil
}

// Load reads and validates the manifest at key.
func (s *Store) Load(ctx context.Context, key string) (Manifest, error) {
	_, rc, err := s.blobs.Get(ctx, key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return Manifest{}, domain.NotFoundError{Table: "manifest", Key: key}
		}
		return Manifest{}, fmt.Errorf("open manifest %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest %s: %w", key, err)
	}
	m, err := Decode(data)
	if err != nil {
		return Manifest{}, fmt.Errorf("%s: %w", key, err)
	}
	return m, nil
}

// MarkCompleted rewrites the manifest in place with status completed.
func (s *Store) MarkCompleted(ctx context.Context, h Handle, at time.Time) (m Manifest, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "manifest.mark_completed", err == nil, start) }()
	m, err = s.Load(ctx, h.Key)
	if err != nil {
		return Manifest{}, err
	}
	m.Status = StatusCompleted
	m.RollbackTimestamp = at.UTC().Format(timestampLayout)
	if err := s.put(ctx, h.Key, m, true); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// List returns manifest keys sorted by name.
func (s *Store) List(ctx context.Context) ([]string, error) {
	infos, err := s.blobs.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		if strings.HasSuffix(info.Key, keySuffix) {
			keys = append(keys, info.Key)
		}
	}
	return keys, nil
}

func (s *Store) put(ctx context.Context, key string, m Manifest, overwrite bool) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	if _, err := s.blobs.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{ContentType: contentType, Overwrite: overwrite}); err != nil {
		return fmt.Errorf("write manifest %s: %w", key, err)
	}
	return nil
}

func (s *Store) ask(prompt string) (bool, error) {
	if s.confirm == nil {
		return false, nil
	}
	return s.confirm.Confirm(prompt)
}

func (s *Store) observe(ctx context.Context, op string, success bool, start time.Time) {
	if s.observer != nil {
		s.observer.Observe(ctx, op, success, time.Since(start))
	}
}

// validateLabel keeps labels usable as a single path segment.
func validateLabel(label string) error {
	if strings.ContainsAny(label, `/\`) || strings.Contains(label, "..") {
		return fmt.Errorf("invalid manifest label %q", label)
	}
	return nil
}

type discard struct{}

func (discard) Info(string, ...any) {}
func (discard) Warn(string, ...any) {}
