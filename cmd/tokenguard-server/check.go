package main

import (
	"fmt"

	"github.com/MrEthical07/tokenguard"
	"github.com/urfave/cli/v2"
)

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "validate and lint the configuration",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "fail on warnings, not only on high severity findings",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := tokenguard.LoadConfig(c.String("config"))
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if _, err := cfg.KeyRing(); err != nil {
				return fmt.Errorf("invalid key ring: %w", err)
			}

			lint := cfg.Lint()
			for _, w := range lint {
				fmt.Fprintf(c.App.Writer, "%-5s %-28s %s\n", w.Severity, w.Code, w.Message)
			}

			min := tokenguard.LintHigh
			if c.Bool("strict") {
				min = tokenguard.LintWarn
			}
			if err := lint.AsError(min); err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, "configuration ok")
			return nil
		},
	}
}
