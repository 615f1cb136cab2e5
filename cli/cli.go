// Package cli implements an interactive REPL over an mvtree.Engine,
// colorizing each command's outcome the way a terminal tool built on
// fatih/color would.
package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/jsun/pmemkv/mvtree"
)

var (
	okColor       = color.New(color.FgGreen).SprintFunc()
	notFoundColor = color.New(color.FgYellow).SprintFunc()
	failedColor   = color.New(color.FgRed).SprintFunc()
)

type Cli struct {
	scanner *bufio.Scanner
	engine  *mvtree.Engine
}

func NewCli(s *bufio.Scanner, e *mvtree.Engine) *Cli {
	return &Cli{scanner: s, engine: e}
}

func (c *Cli) Start() {
	c.printHelp()
	c.printPrompt()
	for c.scanner.Scan() {
		c.processInput(c.scanner.Text())
		c.printPrompt()
	}
}

func (c *Cli) printHelp() {
	fmt.Print(`
pmemkv CLI

Available Commands:
  PUT <key> <val>  Store a key/value pair
  GET <key>        Retrieve the value for key
  DEL <key>        Remove a key/value pair
  ANALYZE          Report persistent leaf chain shape
  EXIT             Terminate this session
`)
	fmt.Println()
}

func (c *Cli) printPrompt() {
	fmt.Print("> ")
}

func (c *Cli) processInput(line string) {
	fields := strings.Fields(line)
	if len(fields) < 1 {
		return
	}
	switch strings.ToLower(fields[0]) {
	default:
		fmt.Printf("Unknown command %q\n", fields[0])
	case "put":
		c.processPut(fields[1:])
	case "get":
		c.processGet(fields[1:])
	case "del":
		c.processDel(fields[1:])
	case "analyze":
		c.processAnalyze()
	case "exit":
		os.Exit(0)
	}
}

func (c *Cli) processPut(args []string) {
	if len(args) != 2 {
		fmt.Println("Usage: PUT <key> <value>")
		return
	}
	if err := c.engine.Put([]byte(args[0]), []byte(args[1])); err != nil {
		fmt.Println(failedColor("FAILED"), err)
		return
	}
	fmt.Println(okColor("OK"))
}

func (c *Cli) processGet(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: GET <key>")
		return
	}
	val, err := c.engine.Get([]byte(args[0]))
	switch err {
	case nil:
		fmt.Println(okColor("OK"), string(val))
	case mvtree.ErrNotFound:
		fmt.Println(notFoundColor("NOT_FOUND"))
	default:
		fmt.Println(failedColor("FAILED"), err)
	}
}

func (c *Cli) processDel(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: DEL <key>")
		return
	}
	err := c.engine.Remove([]byte(args[0]))
	switch err {
	case nil:
		fmt.Println(okColor("OK"))
	case mvtree.ErrNotFound:
		fmt.Println(notFoundColor("NOT_FOUND"))
	default:
		fmt.Println(failedColor("FAILED"), err)
	}
}

func (c *Cli) processAnalyze() {
	a := c.engine.Analyze()
	fmt.Printf("leaf_total=%d leaf_empty=%d leaf_prealloc=%d\n", a.LeafTotal, a.LeafEmpty, a.LeafPrealloc)
}
