// Package main provides the linkshare-admin CLI for driving a running
// linkshare daemon through its control API.
package main

import (
	"os"

	"github.com/sirosfoundation/go-linkshare/cmd/linkshare-admin/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
