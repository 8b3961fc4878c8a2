// Command gcgraph runs a stress scenario against the collector: it builds
// chains and cycles of managed objects plus arena-backed buffers, drops a
// share of the roots, and reports what each collection pass reclaims.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/inhies/go-bytesize"
	"gopkg.in/yaml.v2"

	"github.com/cyclelabs/gcgraph/internal/arena"
	"github.com/cyclelabs/gcgraph/pkg/gcgraph"
)

// scenario describes one stress run. All fields are optional in the YAML
// file; fields it omits keep the defaults below.
type scenario struct {
	Chains     int    `yaml:"chains"`
	ChainLen   int    `yaml:"chain_len"`
	Cycles     int    `yaml:"cycles"`
	CycleLen   int    `yaml:"cycle_len"`
	Buffers    int    `yaml:"buffers"`
	BufferSize int    `yaml:"buffer_size"`
	Passes     int    `yaml:"passes"`
	ArenaPages uint32 `yaml:"arena_pages"`
}

func defaultScenario() scenario {
	return scenario{
		Chains:     100,
		ChainLen:   50,
		Cycles:     100,
		CycleLen:   4,
		Buffers:    200,
		BufferSize: 4096,
		Passes:     3,
		ArenaPages: 32,
	}
}

// link is the stress object: one owning slot and a payload that gives the
// range some width.
type link struct {
	Next    gcgraph.Ptr[link]
	payload [48]byte
}

func main() {
	configPath := flag.String("config", "", "YAML scenario file")
	chains := flag.Int("chains", 0, "number of linear chains")
	cycles := flag.Int("cycles", 0, "number of cycles")
	passes := flag.Int("passes", 0, "collection passes to run")
	flag.Parse()

	sc := defaultScenario()
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reading scenario: %v\n", err)
			os.Exit(1)
		}
		if err := yaml.Unmarshal(data, &sc); err != nil {
			fmt.Fprintf(os.Stderr, "parsing scenario: %v\n", err)
			os.Exit(1)
		}
	}
	if *chains > 0 {
		sc.Chains = *chains
	}
	if *cycles > 0 {
		sc.Cycles = *cycles
	}
	if *passes > 0 {
		sc.Passes = *passes
	}

	if err := run(sc); err != nil {
		fmt.Fprintf(os.Stderr, "gcgraph: %v\n", err)
		os.Exit(1)
	}
}

func run(sc scenario) error {
	ctx := context.Background()
	g := gcgraph.NewGraph(nil)

	heap, err := arena.NewHeap(ctx, sc.ArenaPages)
	if err != nil {
		return err
	}
	defer heap.Close(ctx)

	// Linear chains: the root of every odd chain is dropped, so half the
	// chains become garbage.
	var keptRoots []*gcgraph.Ptr[link]
	for i := 0; i < sc.Chains; i++ {
		root := buildChain(g, sc.ChainLen)
		if i%2 == 0 {
			keptRoots = append(keptRoots, root)
		} else {
			root.Detach()
		}
	}

	// Cycles: all roots dropped; only the trace can reclaim these.
	for i := 0; i < sc.Cycles; i++ {
		buildCycle(g, sc.CycleLen)
	}

	// Arena buffers: half rooted, half garbage.
	var bufRoots []*gcgraph.Ptr[gcgraph.Buffer]
	for i := 0; i < sc.Buffers; i++ {
		bp, err := gcgraph.NewBuffer(g, heap, sc.BufferSize)
		if err != nil {
			return err
		}
		if i%2 == 0 {
			bufRoots = append(bufRoots, bp)
		} else {
			bp.Detach()
		}
	}

	fmt.Printf("before: %d objects, %s\n",
		g.AllocatedObjects(), bytesize.New(float64(g.AllocatedBytes())))

	for pass := 1; pass <= sc.Passes; pass++ {
		batch := g.Collect()
		fmt.Printf("pass %d: reclaimed %d objects (%s)\n",
			pass, batch.Len(), bytesize.New(float64(batch.Bytes())))
		batch.Release()
	}

	fmt.Printf("after: %d objects, %s\n",
		g.AllocatedObjects(), bytesize.New(float64(g.AllocatedBytes())))
	fmt.Println(g.Stats())

	for _, r := range keptRoots {
		r.Detach()
	}
	for _, r := range bufRoots {
		r.Detach()
	}
	return nil
}

// buildChain allocates a linked chain of n objects and returns the root
// holding its head. Intermediate roots are detached once the previous link
// owns the object.
func buildChain(g *gcgraph.Graph, n int) *gcgraph.Ptr[link] {
	head := gcgraph.New[link](g)
	cur := head
	for i := 1; i < n; i++ {
		next := gcgraph.New[link](g)
		cur.Get().Next.Set(next)
		if cur != head {
			cur.Detach()
		}
		cur = next
	}
	if cur != head {
		cur.Detach()
	}
	return head
}

// buildCycle allocates n objects linked in a ring and drops every root.
func buildCycle(g *gcgraph.Graph, n int) {
	if n < 1 {
		return
	}
	roots := make([]*gcgraph.Ptr[link], n)
	for i := range roots {
		roots[i] = gcgraph.New[link](g)
	}
	for i := range roots {
		roots[i].Get().Next.Set(roots[(i+1)%n])
	}
	for _, r := range roots {
		r.Detach()
	}
}
