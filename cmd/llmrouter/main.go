// llmrouter is a multi-provider LLM gateway: one normalized API over
// OpenAI-dialect, Anthropic, Gemini, Cohere, and local gguf backends, with
// capability-aware routing, rate limiting, and circuit breaking.
package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("llmrouter", version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
