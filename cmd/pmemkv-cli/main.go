package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/go-faker/faker/v4"
	"github.com/jsun/pmemkv/cli"
	"github.com/jsun/pmemkv/mvtree"
)

var (
	path           *string
	shouldReset    *bool
	shouldSeed     *bool
	seedNumRecords *int
	poolSize       *int64
)

func erasePool(p string) {
	os.Remove(p + ".heap")
	os.Remove(p + ".heap.log")
}

func seedWithTestRecords(e *mvtree.Engine) {
	for i := 0; i < *seedNumRecords; i++ {
		k := []byte(faker.Word() + faker.Word())
		v := []byte(faker.Word() + faker.Word())
		if err := e.Put(k, v); err != nil {
			log.Printf("seed: put %d failed: %v", i, err)
		}
	}
}

func main() {
	setupFlags()

	if *shouldReset {
		erasePool(*path)
	}

	engine, err := mvtree.Open(*path, *poolSize)
	if err != nil {
		log.Fatal(err)
	}
	defer engine.Free()

	if *shouldSeed {
		seedWithTestRecords(engine)
	}

	scanner := bufio.NewScanner(os.Stdin)
	repl := cli.NewCli(scanner, engine)
	repl.Start()
}

func setupFlags() {
	path = flag.String("path", "pmemkv-data", "Path prefix for the pool's backing files.")
	shouldReset = flag.Bool("reset", false, "Erase the pool's backing files before startup.")
	shouldSeed = flag.Bool("seed", false, "Seed the pool with records created with go-faker.")
	seedNumRecords = flag.Int("records", 1000, "Amount of records to seed the pool with upon startup.")
	poolSize = flag.Int64("size", 64<<20, "Capacity in bytes to create the pool with if it does not exist yet.")
	flag.Usage = func() {
		fmt.Println("\npmemkv CLI\n\nArguments:")
		flag.PrintDefaults()
	}
	flag.Parse()
}
