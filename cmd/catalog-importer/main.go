// Package main imports badge catalog seed files into the story database.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/mystira/story-engine/internal/platform/cmd"
	"github.com/mystira/story-engine/internal/platform/config"
	catalogimporter "github.com/mystira/story-engine/internal/tools/importer"
)

func main() {
	cfg, err := catalogimporter.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("Error: %v", err)
	}

	err = cmd.RunWithTelemetry(context.Background(), cmd.ServiceCatalogImporter, func(ctx context.Context) error {
		return catalogimporter.Run(ctx, cfg, os.Stdout)
	})
	if err != nil {
		config.Exitf("Error: %v", err)
	}
}
