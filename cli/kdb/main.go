package main

import (
	"os"

	kdbcmder "github.com/papercomputeco/kdb/cmd/kdb"
)

func main() {
	cmd := kdbcmder.NewKdbCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
