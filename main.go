// The main package for the nested-progress executable.
package main

import (
	"github.com/JakeFAU/nested-progress/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
