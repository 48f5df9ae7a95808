// The main package for the accountlink executable.
package main

import (
	"github.com/JakeFAU/accountlink/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
