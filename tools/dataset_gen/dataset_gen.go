package main

// dataset_gen.go is a tiny helper utility to generate deterministic
// alarm-schedule datasets for standalone benchmarking of the timing wheel
// (outside `go test`). It emits newline-separated nanosecond inter-arrival
// deltas which can be cumulatively summed by a benchmarking harness to
// derive absolute alarm times.
//
// Usage:
//
//	go run ./tools/dataset_gen -n 1000000 -dist=zipf -seed=42 -out deltas.txt
//
// Flags:
//
//	-n       number of deltas to generate (default 1e6)
//	-dist    distribution: "uniform" or "zipf" (default uniform)
//	-max     maximum delta in nanoseconds (zipf deltas reach max+1)
//	-zipfs   Zipf s parameter (>1)
//	-zipfv   Zipf v parameter (>=1)
//	-seed    RNG seed (default current time)
//	-out     output file (default stdout)
//
// The program is embarrassingly simple but placed under version control so
// any contributor can regenerate the exact dataset used in performance
// regression hunting.
//
// © 2025 tickwheel authors. MIT License.

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"
)

func main() {
	var (
		n       = flag.Int("n", 1_000_000, "number of deltas to generate")
		dist    = flag.String("dist", "uniform", "distribution: uniform or zipf")
		maxNs   = flag.Int64("max", int64(time.Second), "max delta in nanoseconds (uniform)")
		zipfS   = flag.Float64("zipfs", 1.2, "zipf s parameter (>1)")
		zipfV   = flag.Float64("zipfv", 1.0, "zipf v parameter (>=1)")
		seedVal = flag.Int64("seed", time.Now().UnixNano(), "PRNG seed")
		outPath = flag.String("out", "", "output file (default stdout)")
	)
	flag.Parse()

	rnd := rand.New(rand.NewSource(*seedVal))

	var gen func() uint64
	switch *dist {
	case "uniform":
		if *maxNs <= 0 {
			fmt.Fprintln(os.Stderr, "max must be > 0")
			os.Exit(1)
		}
		gen = func() uint64 { return uint64(rnd.Int63n(*maxNs)) + 1 }
	case "zipf":
		if *zipfS <= 1.0 || *zipfV < 1.0 {
			fmt.Fprintln(os.Stderr, "zipfs must be >1 and zipfv >=1")
			os.Exit(1)
		}
		z := rand.NewZipf(rnd, *zipfS, *zipfV, uint64(*maxNs))
		gen = func() uint64 { return z.Uint64() + 1 }
	default:
		fmt.Fprintln(os.Stderr, "unknown dist:", *dist)
		os.Exit(1)
	}

	var out *os.File
	var err error
	if *outPath == "" {
		out = os.Stdout
	} else {
		out, err = os.Create(*outPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "cannot create file:", err)
			os.Exit(1)
		}
		defer out.Close()
	}

	w := bufio.NewWriterSize(out, 1<<20)
	defer w.Flush()

	for i := 0; i < *n; i++ {
		fmt.Fprintln(w, gen())
	}
}
