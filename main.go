// Dotc is a compiler for staged build pipelines.
//
// It merges build templates, expands matrix builds into concrete jobs and
// emits a deterministic pipeline artifact grouped into barrier-gated stages.
package main

import (
	"github.com/opnlabs/dotc/cmd/dotc"
)

func main() {
	dotc.Execute()
}
