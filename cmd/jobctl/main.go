// Command jobctl is the operator CLI for the generation job manager.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	e := &env{}
	err := newRootCmd(e).Execute()
	e.shutdown()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
