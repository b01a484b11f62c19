package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/famblog/cmd/server/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool `help:"Enable debug mode."`
		Version kong.VersionFlag
		Serve   commands.ServeCmd `cmd:"" help:"Start the gated web server"`
		Check   commands.CheckCmd `cmd:"" help:"Evaluate the route policy for paths without starting a server"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("famblog"),
		kong.Description("Route gate for the famblog site."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
