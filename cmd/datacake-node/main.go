package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/l-7-l/datacake"
	"github.com/l-7-l/datacake/membership/static"
	"github.com/l-7-l/datacake/storage/memstore"
	"github.com/l-7-l/datacake/topology"
	"github.com/l-7-l/datacake/transport/loopback"
)

// optsStruct is a thin CLI surface over datacake.Config, in the same
// go-flags idiom the teacher's own benchmarking binary uses. Parsing a
// real cluster's config from files/env is out of scope here; this
// exists to drive one node through a put/get against a single-process
// loopback network for smoke-testing, not to operate a cluster.
type optsStruct struct {
	NodeID     uint32 `long:"node-id" description:"This node's numeric id" default:"1"`
	DC         string `long:"dc" description:"This node's data-center tag" default:"dc1"`
	Addr       string `long:"addr" description:"This node's address as it appears to peers" default:"node1"`
	Keyspace   string `long:"keyspace" description:"Keyspace to operate on" default:"default"`
	Positional struct {
		Command string `name:"command" description:"put|get|stats"`
		Key     uint64 `name:"key" description:"Key"`
		Value   string `name:"value" description:"Value (put only)"`
	} `positional-args:"yes"`
}

var opts optsStruct
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		args = append(args, "-h")
	}
	if _, err := parser.ParseArgs(args); err != nil {
		os.Exit(1)
	}

	debug, errLog := datacake.DefaultLoggers()
	cfg := datacake.Config{
		NodeID:   opts.NodeID,
		LocalDC:  opts.DC,
		Addr:     opts.Addr,
		LogDebug: debug,
		LogError: errLog,
	}

	store := memstore.New()
	net := loopback.New()
	watch := static.New(nil)

	node, err := datacake.NewNode(cfg, store, net.Dialer(), watch)
	if err != nil {
		fmt.Fprintln(os.Stderr, "datacake-node:", err)
		os.Exit(1)
	}
	defer node.Shutdown()

	srv := net.Server(opts.Addr)
	if err := srv.Mount(node.Handler()); err != nil {
		fmt.Fprintln(os.Stderr, "datacake-node:", err)
		os.Exit(1)
	}

	ctx := context.Background()
	switch opts.Positional.Command {
	case "put":
		err = node.Put(ctx, topology.None, opts.Keyspace, opts.Positional.Key, []byte(opts.Positional.Value))
	case "get":
		got, found, gerr := node.Get(ctx, opts.Keyspace, opts.Positional.Key)
		err = gerr
		if err == nil {
			if found {
				fmt.Printf("%d = %q\n", got.Key, string(got.Value))
			} else {
				fmt.Println("not found")
			}
		}
	case "stats":
		fmt.Println(node.Stats(ctx))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", opts.Positional.Command)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "datacake-node:", err)
		os.Exit(1)
	}
}
