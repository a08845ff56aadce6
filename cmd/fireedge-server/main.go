// Package main provides the fireedge-server console API gateway.
package main

import (
	"os"

	"fireedge.io/gateway/cmd/fireedge-server/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
