// Command courtroom runs audits from the terminal.
package main

import (
	"log"
	"os"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
