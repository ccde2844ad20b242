// Package main implements csimtool, a standalone LRU-only cache-trace
// statistics tool. It is a direct, self-contained port of the original
// CS:APP-style cache simulator: it never imports the cache package,
// since its whole point is to be an independent reference
// implementation of the same hit/miss/evict math.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
)

type cacheLine struct {
	valid   bool
	dirty   bool
	tag     uint64
	lastUse uint64
}

type stats struct {
	hits           uint64
	misses         uint64
	evictions      uint64
	dirtyBytes     uint64
	dirtyEvictions uint64
}

func main() {
	setBits := flag.Uint64("s", 0, "number of set index bits (2^s sets)")
	blockBits := flag.Uint64("b", 0, "number of block offset bits (2^b bytes per block)")
	ways := flag.Uint64("E", 0, "lines per set")
	tracePath := flag.String("t", "", "trace file path")
	verbose := flag.Bool("v", false, "report the effect of each memory operation")
	flag.Parse()

	if *ways == 0 || *tracePath == "" {
		fmt.Fprintln(os.Stderr, "Usage: csimtool -s <s> -b <b> -E <E> -t <trace>")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if *setBits+*blockBits > 64 {
		fmt.Fprintln(os.Stderr, "s + b must be <= 64")
		os.Exit(1)
	}

	sets := uint64(1) << *setBits
	blockSize := uint64(1) << *blockBits

	cache := make([][]cacheLine, sets)
	for i := range cache {
		cache[i] = make([]cacheLine, *ways)
	}

	f, err := os.Open(*tracePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening %q: %v\n", *tracePath, err)
		os.Exit(1)
	}
	defer f.Close()

	st, err := processTrace(f, cache, *setBits, *blockBits, blockSize, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	fmt.Printf("hits:%d misses:%d evictions:%d dirty_bytes:%d dirty_evictions:%d\n",
		st.hits, st.misses, st.evictions, st.dirtyBytes, st.dirtyEvictions)
}

func processTrace(f *os.File, cache [][]cacheLine, setBits, blockBits, blockSize uint64, verbose bool) (stats, error) {
	var st stats
	var iteration uint64

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var op byte
		var addr uint64
		var size int
		if _, err := fmt.Sscanf(line, "%c %x,%d", &op, &addr, &size); err != nil {
			return st, fmt.Errorf("malformed trace line %q: %w", line, err)
		}

		setIndex, tag := splitAddr(addr, setBits, blockBits)
		if verbose {
			fmt.Fprintf(os.Stderr, "%c %x,%d set=%d tag=%d ", op, addr, size, setIndex, tag)
		}

		switch op {
		case 'L':
			access(cache[setIndex], tag, iteration, blockSize, false, &st, verbose)
		case 'S':
			access(cache[setIndex], tag, iteration, blockSize, true, &st, verbose)
		}
		iteration++
	}
	if err := scanner.Err(); err != nil {
		return st, err
	}
	return st, nil
}

func splitAddr(addr, setBits, blockBits uint64) (setIndex, tag uint64) {
	if setBits == 0 {
		return 0, addr >> blockBits
	}
	return (addr >> blockBits) & ((1 << setBits) - 1), addr >> (setBits + blockBits)
}

// access simulates one load (isStore=false) or store (isStore=true)
// against a single set, mirroring the source's load()/store() pair.
func access(set []cacheLine, tag, iteration, blockSize uint64, isStore bool, st *stats, verbose bool) {
	for i := range set {
		if set[i].valid && set[i].tag == tag {
			set[i].lastUse = iteration
			if isStore && !set[i].dirty {
				st.dirtyBytes += blockSize
			}
			if isStore {
				set[i].dirty = true
			}
			st.hits++
			if verbose {
				fmt.Fprintln(os.Stderr, "HIT")
			}
			return
		}
	}

	st.misses++

	for i := range set {
		if !set[i].valid {
			set[i].valid = true
			set[i].dirty = isStore
			set[i].tag = tag
			set[i].lastUse = iteration
			if isStore {
				st.dirtyBytes += blockSize
			}
			if verbose {
				fmt.Fprintln(os.Stderr, "MISS, but no evict")
			}
			return
		}
	}

	lru := 0
	for i := 1; i < len(set); i++ {
		if set[i].lastUse < set[lru].lastUse {
			lru = i
		}
	}

	if set[lru].dirty {
		st.dirtyBytes -= blockSize
		st.dirtyEvictions += blockSize
	}
	set[lru].dirty = isStore
	set[lru].tag = tag
	set[lru].lastUse = iteration
	if isStore {
		st.dirtyBytes += blockSize
	}
	st.evictions++
	if verbose {
		fmt.Fprintln(os.Stderr, "MISS, but evict!")
	}
}
