package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pchat/pchat/internal/app"
	"github.com/pchat/pchat/internal/session"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	a := fx.New(
		app.Module(app.Params{SessionName: sessionName}),
	)

	a.Run()
}
