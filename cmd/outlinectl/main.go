// outlinectl inspects and edits concept workspaces, either offline on JSON
// files or against a running marginalia API.
package main

import (
	"fmt"
	"os"
)

var osExit = os.Exit

func main() {
	if err := newRootCmd(newApp()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		osExit(1)
	}
}
