package main

import (
	"fmt"
	"os"

	"github.com/sandeepkv93/newsroom-auth-service/internal/tools/authctl"
)

func main() {
	if err := authctl.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "authctl:", err)
		os.Exit(1)
	}
}
