// The main package for the fre-lookup executable.
package main

import (
	"github.com/JakeFAU/fre-lookup/cmd"
)

func main() {
	cmd.Execute()
}
