// Package main is the entry point of the grade notifier worker.
package main

import (
	"context"
	"os"

	"github.com/nzua-hub/grade-notifier/cmd/gradesync/app"
)

func main() {
	if err := app.NewRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
