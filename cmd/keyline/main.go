// Command keyline manages this installation's license: activate,
// validate, deactivate, inspect status and entitlements, check for
// updates, and serve the local license API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"keyline/internal/app"
	"keyline/pkg/contracts/domain"
)

const usageText = `Usage: keyline <command> [flags]

Commands:
  activate -key <license-key> [-site <name>]   Activate a license for this installation
  validate                                     Validate the stored license (exit 1 if invalid)
  deactivate                                   Release the activation and clear local state
  status                                       Show the stored license status
  features                                     Show the entitlement map
  check-update                                 Check for a newer product version
  usage -period <YYYY-MM> [-metric k=v ...]    Report usage metrics
  serve                                        Run the local license API
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}

	application, err := app.NewApplication()
	if err != nil {
		slog.Error("failed to initialize", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx := context.Background()
	command := os.Args[1]
	args := os.Args[2:]

	var runErr error
	switch command {
	case "activate":
		runErr = runActivate(ctx, application, args)
	case "validate":
		runErr = runValidate(ctx, application)
	case "deactivate":
		runErr = runDeactivate(ctx, application)
	case "status":
		runErr = runStatus(ctx, application)
	case "features":
		runErr = runFeatures(ctx, application)
	case "check-update":
		runErr = runCheckUpdate(ctx, application)
	case "usage":
		runErr = runUsage(ctx, application, args)
	case "serve":
		runErr = application.Run(ctx)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usageText)
		os.Exit(2)
	}

	if command != "serve" {
		application.Close()
	}
	if runErr != nil {
		slog.Error("command failed", slog.String("command", command), slog.String("error", runErr.Error()))
		os.Exit(1)
	}
}

func runActivate(ctx context.Context, a *app.Application, args []string) error {
	fs := flag.NewFlagSet("activate", flag.ExitOnError)
	key := fs.String("key", "", "license key")
	site := fs.String("site", "", "site name to attach to the activation")
	fs.Parse(args)

	if *key == "" {
		return fmt.Errorf("-key is required")
	}

	response, err := a.LicenseService.Activate(ctx, domain.LicenseActivationRequest{
		LicenseKey: *key,
		SiteName:   *site,
	})
	if err != nil {
		return err
	}
	return printJSON(response)
}

func runValidate(ctx context.Context, a *app.Application) error {
	valid, err := a.LicenseService.ValidateWithContext(ctx)
	if err != nil {
		return err
	}
	if err := printJSON(map[string]bool{"valid": valid}); err != nil {
		return err
	}
	if !valid {
		a.Close()
		os.Exit(1)
	}
	return nil
}

func runDeactivate(ctx context.Context, a *app.Application) error {
	if err := a.LicenseService.Deactivate(ctx); err != nil {
		return err
	}
	fmt.Println("license deactivated")
	return nil
}

func runStatus(ctx context.Context, a *app.Application) error {
	response, err := a.LicenseService.GetStatus(ctx)
	if err != nil {
		return err
	}
	return printJSON(response)
}

func runFeatures(ctx context.Context, a *app.Application) error {
	features, err := a.LicenseService.Features(ctx)
	if err != nil {
		return err
	}
	return printJSON(features)
}

func runCheckUpdate(ctx context.Context, a *app.Application) error {
	info, err := a.LicenseService.CheckForUpdates(ctx)
	if err != nil {
		return err
	}
	if info == nil {
		fmt.Println("up to date")
		return nil
	}
	return printJSON(info)
}

func runUsage(ctx context.Context, a *app.Application, args []string) error {
	fs := flag.NewFlagSet("usage", flag.ExitOnError)
	period := fs.String("period", "", "reporting period, e.g. 2026-08")
	var metricFlags multiFlag
	fs.Var(&metricFlags, "metric", "metric as name=value, repeatable")
	fs.Parse(args)

	if *period == "" {
		return fmt.Errorf("-period is required")
	}

	metrics := make(map[string]float64, len(metricFlags))
	for _, m := range metricFlags {
		name, raw, ok := strings.Cut(m, "=")
		if !ok {
			return fmt.Errorf("invalid -metric %q, expected name=value", m)
		}
		var value float64
		if _, err := fmt.Sscanf(raw, "%g", &value); err != nil {
			return fmt.Errorf("invalid metric value in %q: %w", m, err)
		}
		metrics[name] = value
	}

	if err := a.LicenseService.ReportUsage(ctx, domain.UsageReport{
		Period:  *period,
		Metrics: metrics,
	}); err != nil {
		return err
	}
	fmt.Println("usage reported")
	return nil
}

type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

func printJSON(v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
