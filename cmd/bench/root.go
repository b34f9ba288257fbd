package bench

import (
	"encoding/binary"
	"runtime"

	"github.com/aspenkv/aspen/cmd/util"
	"github.com/aspenkv/aspen/lib/hlog"
	"github.com/aspenkv/aspen/lib/kv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	store *kv.Store[kv.StringKey]

	// BenchCmd represents the bench command group
	BenchCmd = &cobra.Command{
		Use:               "bench",
		Short:             "Run in-process benchmarks against an embedded store",
		RunE:              run,
		PreRunE:           processBenchConfig,
		PersistentPreRunE: setupStore,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common store flags to the bench command
	util.SetupStoreFlags(BenchCmd)

	// add flags
	key := "skip"
	BenchCmd.PersistentFlags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. upsert,read)"))
	key = "threads"
	BenchCmd.PersistentFlags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "value-size"
	BenchCmd.PersistentFlags().Int(key, 100, util.WrapString("Value size for the regular benchmarks (in bytes)"))
	key = "large-value-size"
	BenchCmd.PersistentFlags().Int(key, 1000, util.WrapString("How large the value for the upsert-large test should be (in KB)"))
	key = "keys"
	BenchCmd.PersistentFlags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	BenchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
	key = "metrics"
	BenchCmd.Flags().Bool(key, false, util.WrapString("Dump the store's Prometheus metrics after the run"))
}

// setupStore opens the embedded store the benchmarks run against
func setupStore(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	cfg, err := util.GetStoreConfig()
	if err != nil {
		return err
	}

	// RunParallel spawns parallelism*GOMAXPROCS goroutines, each of which
	// opens its own session.
	cfg.MaxSessions = viper.GetInt("threads")*runtime.GOMAXPROCS(0) + 16

	store, err = kv.Open[kv.StringKey](cfg)
	return err
}

// --------------------------------------------------------------------------
// Operation contexts
// --------------------------------------------------------------------------

// blobUpsert writes an opaque value.
type blobUpsert struct {
	key kv.StringKey
	val []byte
}

func (c *blobUpsert) Key() kv.StringKey { return c.key }
func (c *blobUpsert) ValueSize() uint32 { return uint32(len(c.val)) }
func (c *blobUpsert) Put(r *hlog.Record[kv.StringKey]) {
	r.SetValue(c.val)
}
func (c *blobUpsert) PutAtomic(r *hlog.Record[kv.StringKey]) bool {
	return r.SetValue(c.val)
}

// blobRead copies the value out.
type blobRead struct {
	key kv.StringKey
	got []byte
}

func (c *blobRead) Key() kv.StringKey { return c.key }
func (c *blobRead) Get(v []byte) {
	c.got = append(c.got[:0], v...)
}
func (c *blobRead) GetAtomic(v []byte) {
	c.got = append(c.got[:0], v...)
}
func (c *blobRead) Clone() kv.ReadContext[kv.StringKey] {
	clone := *c
	clone.got = nil
	return &clone
}

// counterRmw increments an 8-byte little-endian counter.
type counterRmw struct {
	key kv.StringKey
}

func (c *counterRmw) Key() kv.StringKey            { return c.key }
func (c *counterRmw) ValueSize(_ []byte) uint32    { return 8 }
func (c *counterRmw) Clone() kv.RmwContext[kv.StringKey] { return c }

func (c *counterRmw) RmwInitial(r *hlog.Record[kv.StringKey]) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], 1)
	r.SetValue(b[:])
}

func (c *counterRmw) RmwCopy(old []byte, r *hlog.Record[kv.StringKey]) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], binary.LittleEndian.Uint64(old)+1)
	r.SetValue(b[:])
}

func (c *counterRmw) RmwAtomic(r *hlog.Record[kv.StringKey]) bool {
	r.Uint64View(0).Add(1)
	return true
}
