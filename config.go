package ldb

import (
	"github.com/go-playground/validator/v10"
)

// Options configures an engine handle, validated at construction the way
// the rest of the retrieval pack's `Options` structs are: a plain struct of
// tagged fields checked by validator/v10 rather than hand-rolled range
// checks scattered through the constructor.
type Options struct {
	PageSize int64 `validate:"required"`

	// CacheCapacity bounds NodeCache's resident-node pool (§4.1).
	CacheCapacity int `validate:"min=8"`

	// MaxKeySize is the per-tree limit §4.4 step 1 enforces.
	MaxKeySize int `validate:"min=1,max=16383"`

	// MaxEntrySize is the key length plus encoded value length above which
	// Put marks a value fragmented; the value itself is still stored inline.
	MaxEntrySize int `validate:"min=1"`

	// LockUpgradeRule picks §4.9's upgrade policy.
	LockUpgradeRule UpgradeRule

	// LockPartitions sizes the lock table's shard count (§4.9); rounded up
	// to a power of two by NewLockManager's caller.
	LockPartitions int `validate:"min=1"`

	// DefaultLockTimeoutMS is the default wait used when a caller doesn't
	// specify one explicitly.
	DefaultLockTimeoutMS int64 `validate:"min=0"`

	// CheckpointWorkers bounds the worker pool checkpoint.go fans dirty
	// page writes across.
	CheckpointWorkers int `validate:"min=1"`
}

// Option mutates an Options during construction, following the teacher's
// functional-options shape.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		PageSize:             4096,
		CacheCapacity:        1024,
		MaxKeySize:           2048,
		MaxEntrySize:         4096,
		LockUpgradeRule:      UpgradeStrict,
		LockPartitions:       64,
		DefaultLockTimeoutMS: 1000,
		CheckpointWorkers:    4,
	}
}

func WithPageSize(n int64) Option { return func(o *Options) { o.PageSize = n } }

func WithCacheCapacity(n int) Option { return func(o *Options) { o.CacheCapacity = n } }

func WithMaxKeySize(n int) Option { return func(o *Options) { o.MaxKeySize = n } }

func WithMaxEntrySize(n int) Option { return func(o *Options) { o.MaxEntrySize = n } }

func WithLockUpgradeRule(r UpgradeRule) Option { return func(o *Options) { o.LockUpgradeRule = r } }

func WithLockPartitions(n int) Option { return func(o *Options) { o.LockPartitions = n } }

func WithDefaultLockTimeoutMS(ms int64) Option {
	return func(o *Options) { o.DefaultLockTimeoutMS = ms }
}

func WithCheckpointWorkers(n int) Option { return func(o *Options) { o.CheckpointWorkers = n } }

var optionsValidator = validator.New()

func buildOptions(opts ...Option) (Options, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	if !PageSize(o.PageSize).Valid() {
		return o, newCorruptPage(NilPage, "invalid page size %d", o.PageSize)
	}
	if err := optionsValidator.Struct(&o); err != nil {
		return o, err
	}
	return o, nil
}
