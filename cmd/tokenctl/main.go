// Command tokenctl obtains client-credentials tokens and calls protected APIs
// with them, using a tokenflow configuration file.
package main

import (
	"os"

	"github.com/AmmannChristian/go-tokenflow/cmd/tokenctl/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
