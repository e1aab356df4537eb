package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
)

var version = "dev"

// CLI represents the main CLI structure
type CLI struct {
	Config    string `short:"c" type:"path" help:"Configuration file layered over the default locations"`
	LogLevel  string `env:"P2PRELAY_LOG_LEVEL" help:"Log level (debug, info, warn, error); overrides the config"`
	LogFormat string `help:"Log format (text, json); overrides the config"`
	Verbose   bool   `short:"v" help:"Shorthand for --log-level=debug"`

	Serve   ServeCmd   `cmd:"" help:"Run the HTTP relay"`
	Message MessageCmd `cmd:"" help:"Feed an inbound peer message through the relay"`
	Dialog  DialogCmd  `cmd:"" help:"Step a GitHub triage dialog"`
	Ask     AskCmd     `cmd:"" help:"Send a prompt to the executor"`
	Send    SendCmd    `cmd:"" help:"Send a message to the remote peer"`
	Notify  NotifyCmd  `cmd:"" help:"Send a notification to the remote peer"`
	State   StateCmd   `cmd:"" help:"Show safeguard and dialog state"`
	Sweep   SweepCmd   `cmd:"" help:"Drop stale conversations and dialog sessions"`
	Report  ReportCmd  `cmd:"" help:"Build reports"`
	Skills  SkillsCmd  `cmd:"" help:"List or run executor skills"`
	Mail    MailCmd    `cmd:"" help:"Send email through mutt"`
	Conf    ConfigCmd  `cmd:"" name:"config" help:"Inspect the configuration"`
	Version VersionCmd `cmd:"" help:"Print the version"`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("p2prelay"),
		kong.Description("Safeguarded relay between two agents"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	kctx.BindTo(ctx, (*context.Context)(nil))

	err := kctx.Run(&cli)
	stop()
	if err != nil {
		FatalError(slog.Default(), err)
	}
}
