package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"text/tabwriter"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/config"
	"github.com/book-expert/tts-gateway/internal/tts"
	"github.com/urfave/cli/v3"
)

const defaultHealthTimeout = 10 * time.Second

// ErrUnhealthySlots is returned by the health command when any slot failed
// its health check.
var ErrUnhealthySlots = errors.New("one or more slots are unhealthy")

// slotHealth is the outcome of probing one slot's backend.
type slotHealth struct {
	Name    string
	Backend string
	Err     error
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check the model instance behind every slot",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  flagTimeout,
				Usage: "deadline for each health check",
				Value: defaultHealthTimeout,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, log, err := bootstrap(cmd.String(flagConfig))
			if err != nil {
				return err
			}
			defer closeLogger(log)

			results := checkSlots(ctx, cfg, log, cmd.Duration(flagTimeout))

			return reportHealth(cmd.Root().Writer, results)
		},
	}
}

func slotsCommand() *cli.Command {
	return &cli.Command{
		Name:  "slots",
		Usage: "List the configured slots",
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, log, err := bootstrap(cmd.String(flagConfig))
			if err != nil {
				return err
			}
			defer closeLogger(log)

			return printSlots(cmd.Root().Writer, cfg)
		},
	}
}

// checkSlots checks each slot in configuration order. HTTP slots are asked
// for their health endpoint; chatllm slots must have a runnable binary and
// resolvable model files.
func checkSlots(ctx context.Context, cfg *config.Config, log *logger.Logger, timeout time.Duration) []slotHealth {
	results := make([]slotHealth, 0, len(cfg.Slots))

	for _, slot := range cfg.Slots {
		result := slotHealth{Name: slot.Name, Backend: slot.Backend}

		switch slot.Backend {
		case config.BackendHTTP:
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			result.Err = tts.NewHTTPClient(slot.URL, timeout).HealthCheck(checkCtx)

			cancel()
		case config.BackendChatLLM:
			_, lookErr := exec.LookPath(slot.BinaryPath)
			_, buildErr := tts.NewSynthesizer(slot, log)
			result.Err = errors.Join(lookErr, buildErr)
		default:
			result.Err = fmt.Errorf("%w: %q", config.ErrUnknownBackend, slot.Backend)
		}

		if result.Err != nil {
			log.Error("Slot %s (%s) is unhealthy: %v", slot.Name, slot.Backend, result.Err)
		} else {
			log.Info("Slot %s (%s) is healthy", slot.Name, slot.Backend)
		}

		results = append(results, result)
	}

	return results
}

func reportHealth(out io.Writer, results []slotHealth) error {
	writer := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(writer, "SLOT\tBACKEND\tSTATUS")

	unhealthy := 0

	for _, result := range results {
		status := "ok"
		if result.Err != nil {
			status = result.Err.Error()
			unhealthy++
		}

		fmt.Fprintf(writer, "%s\t%s\t%s\n", result.Name, result.Backend, status)
	}

	err := writer.Flush()
	if err != nil {
		return fmt.Errorf("failed to write health report: %w", err)
	}

	if unhealthy > 0 {
		return fmt.Errorf("%w: %d of %d", ErrUnhealthySlots, unhealthy, len(results))
	}

	return nil
}

func printSlots(out io.Writer, cfg *config.Config) error {
	writer := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(writer, "INDEX\tSLOT\tBACKEND\tTARGET")

	for index, slot := range cfg.Slots {
		target := slot.URL
		if slot.Backend == config.BackendChatLLM {
			target = slot.ModelPath
		}

		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\n", index, slot.Name, slot.Backend, target)
	}

	err := writer.Flush()
	if err != nil {
		return fmt.Errorf("failed to write slot list: %w", err)
	}

	return nil
}
