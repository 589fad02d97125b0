package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/berry/internal/daemon"
	"github.com/matheus3301/berry/internal/paths"
	"go.uber.org/fx"
)

func main() {
	homeFlag := flag.String("home", "", "base directory (overrides $"+paths.EnvHome+")")
	debugFlag := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	paths.Resolve(*homeFlag)
	if err := paths.EnsureDirs(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.DefaultParams(*debugFlag)),
	)

	app.Run()
}
