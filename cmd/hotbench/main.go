// hotbench measures batch scoring throughput on synthetic page populations.
// The scorer exists so a cache manager can rank millions of pages per pass;
// this binary makes that number visible.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/gpucachelab/hotpage/internal/hotness/expdecay"
)

func main() {
	keys := flag.Int("keys", 1_000_000, "pages per batch")
	batches := flag.Int("batches", 5, "scoring passes to run")
	halfLife := flag.Float64("half-life", 60.0, "half-life in seconds")
	seed := flag.Int64("seed", 1, "rng seed")
	flag.Parse()

	if *keys <= 0 || *batches <= 0 {
		fmt.Fprintln(os.Stderr, "keys and batches must be positive")
		os.Exit(2)
	}

	rng := rand.New(rand.NewSource(*seed))
	now := float64(time.Now().Unix())

	counts := make(map[string]float64, *keys)
	lastAccess := make(map[string]float64, *keys)
	for i := 0; i < *keys; i++ {
		page := fmt.Sprintf("page-%08x", i)
		counts[page] = float64(rng.Intn(1000) + 1)
		// 10% of pages have no recorded last access
		if rng.Float64() < 0.9 {
			lastAccess[page] = now - rng.Float64()*3600
		}
	}

	fmt.Printf("scoring %d pages x %d batches (half-life %.0fs)\n", *keys, *batches, *halfLife)

	var total time.Duration
	for b := 0; b < *batches; b++ {
		start := time.Now()
		scores, err := expdecay.Scores(counts, lastAccess, now, *halfLife)
		elapsed := time.Since(start)
		if err != nil {
			fmt.Fprintf(os.Stderr, "batch %d: %v\n", b, err)
			os.Exit(1)
		}
		if len(scores) != *keys {
			fmt.Fprintf(os.Stderr, "batch %d: scored %d pages, want %d\n", b, len(scores), *keys)
			os.Exit(1)
		}
		total += elapsed
		fmt.Printf("batch %d: %v (%.0f pages/sec)\n", b, elapsed, float64(*keys)/elapsed.Seconds())
	}

	mean := total / time.Duration(*batches)
	fmt.Printf("mean: %v per batch, %.0f pages/sec\n", mean, float64(*keys)/mean.Seconds())
}
