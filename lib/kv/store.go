package kv

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/aspenkv/aspen/lib/device"
	"github.com/aspenkv/aspen/lib/epoch"
	"github.com/aspenkv/aspen/lib/hlog"
	"github.com/aspenkv/aspen/lib/index"
	"github.com/aspenkv/aspen/lib/util"
)

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// Config parameterizes a store.
type Config struct {
	// TableSize is the initial hash index bucket count; must be a power of
	// two.
	TableSize uint64

	// LogBytes bounds the in-memory footprint of the record log. When the
	// budget runs out the store spills cold records to the device; if that
	// frees nothing, writes fail with StatusOutOfMemory.
	LogBytes int64

	// Device receives spilled payload frames and serves pending reads.
	// nil selects a NullDevice, which acknowledges writes and discards
	// them; use it only when the budget keeps the whole log in memory, or
	// in benchmarks that never read evicted records.
	Device device.Device

	// MaxSessions caps concurrently open sessions.
	MaxSessions int

	// Logger receives growth and spill diagnostics. nil selects a stdout
	// logger at info level.
	Logger Logger
}

// DefaultConfig returns a configuration suitable for an in-memory store.
func DefaultConfig() Config {
	return Config{
		TableSize:   1 << 16,
		LogBytes:    1 << 30,
		MaxSessions: epoch.DefaultTableSize,
	}
}

// --------------------------------------------------------------------------
// Store
// --------------------------------------------------------------------------

// Store is the engine root. All access goes through sessions; see
// StartSession.
type Store[K Key[K]] struct {
	index *index.Index
	log   *hlog.Log[K]
	epoch *epoch.Manager
	dev   device.Device

	sessions    *xsync.MapOf[uint64, *Session[K]]
	sessionID   atomic.Uint64
	maxSessions int

	// devOffset is the next free device offset; frames are appended.
	devOffset atomic.Uint64
	spillMu   sync.Mutex

	growing atomic.Bool
	closed  atomic.Bool

	logger Logger
	sizes  *util.SizeHistogram
	mtr    *storeMetrics
}

type storeMetrics struct {
	set     *metrics.Set
	upserts *metrics.Counter
	reads   *metrics.Counter
	rmws    *metrics.Counter
	pending *metrics.Counter
	aborts  *metrics.Counter
	grows   *metrics.Counter
}

func newStoreMetrics() *storeMetrics {
	set := metrics.NewSet()
	return &storeMetrics{
		set:     set,
		upserts: set.NewCounter(`aspen_ops_total{op="upsert"}`),
		reads:   set.NewCounter(`aspen_ops_total{op="read"}`),
		rmws:    set.NewCounter(`aspen_ops_total{op="rmw"}`),
		pending: set.NewCounter(`aspen_pending_ops_total`),
		aborts:  set.NewCounter(`aspen_aborted_ops_total`),
		grows:   set.NewCounter(`aspen_index_grows_total`),
	}
}

// Open creates a store from the given configuration.
func Open[K Key[K]](cfg Config) (*Store[K], error) {
	if cfg.LogBytes <= 0 {
		return nil, NewError(StatusOutOfMemory, "log byte budget must be positive")
	}
	idx, err := index.NewIndex(cfg.TableSize)
	if err != nil {
		return nil, NewError(StatusAborted, err.Error())
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = epoch.DefaultTableSize
	}
	dev := cfg.Device
	if dev == nil {
		dev = device.NewNullDevice()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = NewLogger("kv", LogInfo)
	}

	return &Store[K]{
		index: idx,
		log:   hlog.NewLog[K](cfg.LogBytes),
		// Spare slots beyond the session cap serve the growth coordinator
		// and pending-operation completions.
		epoch:       epoch.NewManager(cfg.MaxSessions + 16),
		dev:         dev,
		sessions:    xsync.NewMapOf[uint64, *Session[K]](),
		maxSessions: cfg.MaxSessions,
		logger:      logger,
		sizes:       util.NewSizeHistogram(),
		mtr:         newStoreMetrics(),
	}, nil
}

// StartSession opens a session. Each session owns one epoch slot and must be
// closed; it is not safe for concurrent use by multiple goroutines.
func (s *Store[K]) StartSession() (*Session[K], error) {
	if s.closed.Load() {
		return nil, NewError(StatusAborted, "store is closed")
	}
	if s.sessions.Size() >= s.maxSessions {
		return nil, NewError(StatusAborted, "session limit reached")
	}
	slot, ok := s.epoch.Acquire()
	if !ok {
		return nil, NewError(StatusAborted, "session limit reached")
	}
	sess := &Session[K]{
		id:    s.sessionID.Add(1),
		store: s,
		slot:  slot,
	}
	s.sessions.Store(sess.id, sess)
	return sess, nil
}

// Close shuts the store down, closing any sessions still open, and releases
// the device.
//
// Thread-safety: This method is thread-safe, but operations racing with
// Close may observe StatusAborted.
func (s *Store[K]) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.sessions.Range(func(_ uint64, sess *Session[K]) bool {
		sess.Close()
		return true
	})
	s.epoch.Drain()
	return s.dev.Close()
}

// WritePrometheus dumps the store's metrics in Prometheus text format.
func (s *Store[K]) WritePrometheus(w io.Writer) {
	s.mtr.set.WritePrometheus(w)
}
