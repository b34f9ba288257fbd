package bench

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aspenkv/aspen/lib/kv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	benchKeyPrefix        = "__bench"
	benchValueSize        = 100
	benchLargeValueSizeKB = 1000
	benchNumThreads       = 10
	benchKeySpread        = 100
	benchSkip             = make([]string, 0)
)

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	benchValueSize = viper.GetInt("value-size")
	benchLargeValueSizeKB = viper.GetInt("large-value-size")
	benchKeySpread = viper.GetInt("keys")
	benchNumThreads = viper.GetInt("threads")
	benchSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func run(_ *cobra.Command, _ []string) error {
	defer store.Close()

	fmt.Println("Benchmark tool for the aspen embedded store")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("Table size: %d\n", viper.GetUint64("table-size"))
	fmt.Printf("Memory budget: %d MB\n", viper.GetInt64("memory-budget"))
	fmt.Printf("Device: %s\n", viper.GetString("device"))
	fmt.Printf("Threads: %d\n", benchNumThreads)
	fmt.Printf("Keys: %d\n", benchKeySpread)
	fmt.Println()

	fmt.Println("starting benchmarks...")

	// Create results map
	results := make(map[string]testing.BenchmarkResult)

	upsertResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("upsert") {
			return
		}

		// prepare keys and value
		getKey, _ := getKeys("upsert")
		value := make([]byte, benchValueSize)

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			sess := openSession(b, "upsert")
			if sess == nil {
				return
			}
			defer sess.Close()

			counter := 0
			uctx := &blobUpsert{val: value}
			for pb.Next() {
				uctx.key = getKey(counter)
				if st := sess.Upsert(uctx, nil, uint64(counter)); st != kv.StatusOk {
					log.Printf("(upsert) - operation failed: %v\n", st)
				}
				counter++
			}
		})
	})

	results["upsert"] = upsertResult
	printResult("upsert", upsertResult)

	upsertLargeResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("upsert-large") {
			return
		}

		// prepare keys and large value
		getKey, _ := getKeys("upsert-large")
		largeValue := make([]byte, benchLargeValueSizeKB*1024)

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			sess := openSession(b, "upsert-large")
			if sess == nil {
				return
			}
			defer sess.Close()

			counter := 0
			uctx := &blobUpsert{val: largeValue}
			for pb.Next() {
				uctx.key = getKey(counter)
				if st := sess.Upsert(uctx, nil, uint64(counter)); st != kv.StatusOk {
					log.Printf("(upsert-large) - operation failed: %v\n", st)
				}
				counter++
			}
		})
	})

	results["upsert-large"] = upsertLargeResult
	printResult("upsert-large", upsertLargeResult)

	readResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("read") {
			return
		}

		// prepare keys
		getKey, iter := getKeys("read")
		value := make([]byte, benchValueSize)

		// seed keys
		seedKeys(b, "read", iter, value)

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			sess := openSession(b, "read")
			if sess == nil {
				return
			}
			defer sess.Close()

			counter := 0
			rctx := &blobRead{}
			for pb.Next() {
				rctx.key = getKey(counter)
				switch st := sess.Read(rctx, nil, uint64(counter)); st {
				case kv.StatusOk, kv.StatusPending:
				default:
					log.Printf("(read) - operation failed: %v\n", st)
				}
				counter++
			}
		})
	})

	results["read"] = readResult
	printResult("read", readResult)

	readMissResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("read-miss") {
			return
		}

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			sess := openSession(b, "read-miss")
			if sess == nil {
				return
			}
			defer sess.Close()

			counter := 0
			rctx := &blobRead{}
			for pb.Next() {
				rctx.key = kv.StringKey(fmt.Sprintf("%s/read-miss-%d", benchKeyPrefix, counter%100))
				// misses are the expected outcome here
				if st := sess.Read(rctx, nil, uint64(counter)); st != kv.StatusNotFound {
					log.Printf("(read-miss) - unexpected status: %v\n", st)
				}
				counter++
			}
		})
	})

	results["read-miss"] = readMissResult
	printResult("read-miss", readMissResult)

	rmwResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("rmw") {
			return
		}

		// prepare keys
		getKey, _ := getKeys("rmw")

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			sess := openSession(b, "rmw")
			if sess == nil {
				return
			}
			defer sess.Close()

			counter := 0
			mctx := &counterRmw{}
			for pb.Next() {
				mctx.key = getKey(counter)
				switch st := sess.Rmw(mctx, nil, uint64(counter)); st {
				case kv.StatusOk, kv.StatusPending:
				default:
					log.Printf("(rmw) - operation failed: %v\n", st)
				}
				counter++
			}
		})
	})

	results["rmw"] = rmwResult
	printResult("rmw", rmwResult)

	mixedResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("mixed") {
			return
		}

		// prepare keys
		getKey, iter := getKeys("mixed")
		value := make([]byte, benchValueSize)

		// seed keys
		seedKeys(b, "mixed", iter, value)

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			sess := openSession(b, "mixed")
			if sess == nil {
				return
			}
			defer sess.Close()

			counter := 0
			uctx := &blobUpsert{val: value}
			rctx := &blobRead{}
			for pb.Next() {
				key := getKey(counter)
				var st kv.Status
				switch counter % 4 {
				case 0: // upsert
					uctx.key = key
					st = sess.Upsert(uctx, nil, uint64(counter))
				case 1, 2: // read
					rctx.key = key
					st = sess.Read(rctx, nil, uint64(counter))
				case 3: // rmw (over a separate counter key)
					st = sess.Rmw(&counterRmw{key: key + "-ctr"}, nil, uint64(counter))
				}

				switch st {
				case kv.StatusOk, kv.StatusPending, kv.StatusNotFound:
				default:
					log.Printf("(mixed) - operation %d failed: %v\n", counter%4, st)
				}
				counter++
			}
		})
	})

	results["mixed"] = mixedResult
	printResult("mixed", mixedResult)

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	// Dump the store's metrics if specified
	if viper.GetBool("metrics") {
		fmt.Println()
		store.WritePrometheus(os.Stdout)
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range benchSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// openSession opens a store session for one benchmark goroutine. It must not
// call Fatalf since RunParallel bodies run off the benchmark goroutine;
// callers check for nil.
func openSession(b *testing.B, test string) *kv.Session[kv.StringKey] {
	sess, err := store.StartSession()
	if err != nil {
		b.Errorf("(%s) - error opening session: %v", test, err)
		return nil
	}
	return sess
}

// seedKeys writes an initial value for every test key
func seedKeys(b *testing.B, test string, iter func(func(kv.StringKey)), value []byte) {
	sess := openSession(b, test)
	if sess == nil {
		return
	}
	defer sess.Close()

	serial := uint64(0)
	iter(func(k kv.StringKey) {
		if st := sess.Upsert(&blobUpsert{key: k, val: value}, nil, serial); st != kv.StatusOk {
			log.Printf("(%s) - error seeding key: %v\n", test, st)
		}
		serial++
	})
}

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) kv.StringKey, func(func(kv.StringKey))) {
	keys := make([]kv.StringKey, benchKeySpread)
	for i := 0; i < benchKeySpread; i++ {
		keys[i] = kv.StringKey(fmt.Sprintf("%s-%s-%d", benchKeyPrefix, prefix, i))
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) kv.StringKey {
		return keys[i%benchKeySpread]
	}

	// Function to iterate over all keys and apply a function to each
	iterateKeys := func(fn func(kv.StringKey)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"TableSize", "MemoryBudgetMB", "Device",
		"Threads", "ValueSize", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		var skipped string

		if result.NsPerOp() == 0 {
			skipped = "true"
			nsPerOp = 0
			opsPerSec = 0
		} else {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strconv.FormatUint(viper.GetUint64("table-size"), 10),
			strconv.FormatInt(viper.GetInt64("memory-budget"), 10),
			viper.GetString("device"),
			strconv.Itoa(benchNumThreads),
			strconv.Itoa(benchValueSize),
			strconv.Itoa(benchLargeValueSizeKB),
			strconv.Itoa(benchKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
