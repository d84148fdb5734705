package main

// See doc.go for documentation

import (
	stderrors "errors"
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/indextools/contigprovider"
	"github.com/grailbio/indextools/encoding/bai"
	"github.com/grailbio/indextools/partition"
)

const (
	exitUsage      = 1
	exitMalformed  = 2
	exitInfeasible = 3
	exitIO         = 4
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s partition [OPTIONS]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Run '%s partition -help' for the option list.\n", os.Args[0])
}

func main() {
	shutdown := grail.Init()
	code := run(os.Args[1:])
	shutdown()
	if code != 0 {
		os.Exit(code)
	}
}

func run(args []string) int {
	if len(args) < 1 {
		usage()
		return exitUsage
	}
	switch args[0] {
	case "partition":
		return runPartition(args[1:])
	default:
		log.Error.Printf("unknown subcommand %q", args[0])
		usage()
		return exitUsage
	}
}

func runPartition(args []string) int {
	flags := flag.NewFlagSet("partition", flag.ContinueOnError)
	var (
		baiPath     = flags.String("I", "", "Input BAI path (required)")
		bamPath     = flags.String("i", "", "BAM whose header supplies contig sizes; mutually exclusive with -z")
		sizesPath   = flags.String("z", "", "Two-column tab-separated contig sizes file; mutually exclusive with -i")
		targetsPath = flags.String("t", "", "Optional target BED; volume outside the targets is suppressed")
		n           = flags.Int("n", partition.DefaultOpts.Partitions, "Number of partitions (>= 1)")
		outPath     = flags.String("o", "", "Output BED path (required); a .gz suffix gzips the output")
		timeout     = flags.Duration("timeout", 0, "Optional wall-clock limit for the whole run")
	)
	if err := flags.Parse(args); err != nil {
		return exitUsage
	}
	if *baiPath == "" || *outPath == "" {
		log.Error.Printf("partition: -I and -o are required")
		flags.Usage()
		return exitUsage
	}
	if (*bamPath == "") == (*sizesPath == "") {
		log.Error.Printf("partition: exactly one of -i and -z is required")
		return exitUsage
	}
	if *n < 1 {
		log.Error.Printf("partition: -n must be >= 1, got %d", *n)
		return exitUsage
	}

	var provider contigprovider.Provider
	if *bamPath != "" {
		provider = &contigprovider.BAMProvider{Path: *bamPath}
	} else {
		provider = &contigprovider.TSVProvider{Path: *sizesPath}
	}
	opts := partition.Opts{
		BAIPath:     *baiPath,
		TargetsPath: *targetsPath,
		Partitions:  *n,
		OutputPath:  *outPath,
		Timeout:     *timeout,
	}
	ctx := vcontext.Background()
	if err := partition.Run(ctx, provider, &opts); err != nil {
		log.Error.Printf("partition: %v", err)
		return exitCode(err)
	}
	log.Debug.Printf("partition: wrote %s", *outPath)
	return 0
}

func exitCode(err error) int {
	var malformed *bai.MalformedIndexError
	var inconsistent *partition.InconsistentInputsError
	var infeasible *partition.InfeasibleError
	switch {
	case stderrors.As(err, &malformed), stderrors.As(err, &inconsistent):
		return exitMalformed
	case stderrors.As(err, &infeasible):
		return exitInfeasible
	}
	return exitIO
}
