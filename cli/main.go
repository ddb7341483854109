// Command pgtyped describes and checks SQL query files against PostgreSQL.
package main

import (
	"fmt"
	"os"

	"github.com/satishbabariya/pgtyped-go/cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
