// fantoche copies the build outputs of local projects into the dependency
// stores of the projects that consume them.
package main

import (
	"os"

	"github.com/hupe1980/fantoche/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
