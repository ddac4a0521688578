// ./main.go
package main

import (
	"github.com/xkilldash9x/netflix-shuffle/cmd"
)

// main is the entry point for the netflix-shuffle daemon and CLI.
func main() {
	cmd.Execute()
}
