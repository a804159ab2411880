package snapfs

// Options configures filesystem behavior.
type Options struct {
	logger          Logger
	txRetries       int  // Bound on transparent conflict retries per transaction.
	subvolCacheSize int  // Capacity of the subvolume-to-snapshot lookup cache.
	startupGC       bool // Catch up on un-swept dead snapshots at mount.
}

func defaultOptions() Options {
	return Options{
		logger:          DiscardLogger{},
		txRetries:       32,
		subvolCacheSize: 1024,
		startupGC:       true,
	}
}

// Option configures the filesystem using the functional options
// pattern.
type Option func(*Options)

// WithLogger routes internal logging to the given logger.
// The default discards everything.
func WithLogger(l Logger) Option {
	return func(opts *Options) {
		opts.logger = l
	}
}

// WithTxRetries bounds how many times a conflicting transaction is
// retried before surfacing ErrTxRetriesExceeded.
func WithTxRetries(n int) Option {
	return func(opts *Options) {
		opts.txRetries = n
	}
}

// WithSubvolumeCacheSize sets the capacity of the subvolume lookup
// cache.
func WithSubvolumeCacheSize(n int) Option {
	return func(opts *Options) {
		opts.subvolCacheSize = n
	}
}

// WithoutStartupGC disables the catch-up garbage-collection pass at
// mount. Dead snapshots left by an unclean shutdown then stay un-swept
// until the next explicit trigger.
//
//goland:noinspection GoUnusedExportedFunction
func WithoutStartupGC() Option {
	return func(opts *Options) {
		opts.startupGC = false
	}
}
