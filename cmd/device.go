// File: cmd/device.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/automate-cli/api/schemas"
	"github.com/xkilldash9x/automate-cli/internal/agent"
	"github.com/xkilldash9x/automate-cli/internal/config"
	"github.com/xkilldash9x/automate-cli/internal/device"
	"github.com/xkilldash9x/automate-cli/internal/observability"
)

// newDeviceCmd groups the commands that talk to the handset without a model.
func newDeviceCmd(newDriver driverFactory) *cobra.Command {
	deviceCmd := &cobra.Command{
		Use:   "device",
		Short: "Inspects and drives the handset directly",
	}
	deviceCmd.PersistentFlags().String("driver", "", "Device driver to use (adb, browser, simulated)")
	deviceCmd.PersistentFlags().String("serial", "", "ADB serial of the target device")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Reports whether the automation service is enabled and connected",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			return withDriver(cmd.Context(), cfg, newDriver, func(d schemas.DeviceDriver) error {
				return runDeviceStatus(cmd.Context(), d, cmd.OutOrStdout())
			})
		},
	}

	var rawArgs string
	execCmd := &cobra.Command{
		Use:   "exec <tool>",
		Short: "Dispatches a single tool call through the action gateway",
		Example: `  automate device exec touch --args '{"x":0.5,"y":0.5}'
  automate device exec search_apps --args '{"query":"maps"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			call := schemas.ToolCall{ID: "cli", Name: args[0], Arguments: rawArgs}
			return withDriver(cmd.Context(), cfg, newDriver, func(d schemas.DeviceDriver) error {
				return runDeviceExec(cmd.Context(), d, call, cmd.OutOrStdout())
			})
		},
	}
	execCmd.Flags().StringVar(&rawArgs, "args", "{}", "Tool arguments as a JSON object")

	var perform bool
	gestureCmd := &cobra.Command{
		Use:   "gesture <x,y> [x,y...]",
		Short: "Prints the tool call for a tap or swipe through normalized points",
		Long: `Gesture renders one point as a touch call and two or more points as a
swipe call. With --perform the gesture is also dispatched to the device.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			points := make([]schemas.NormalizedPoint, len(args))
			for i, a := range args {
				p, err := device.ParsePoint(a)
				if err != nil {
					return err
				}
				points[i] = p
			}
			call, text := gestureCall(points)
			fmt.Fprintln(cmd.OutOrStdout(), text)
			if !perform {
				return nil
			}

			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			return withDriver(cmd.Context(), cfg, newDriver, func(d schemas.DeviceDriver) error {
				return runDeviceExec(cmd.Context(), d, call, cmd.OutOrStdout())
			})
		},
	}
	gestureCmd.Flags().BoolVar(&perform, "perform", false, "Dispatch the gesture to the device")

	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "Lists the actions the model can take",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), agent.ToolCatalog())
			return nil
		},
	}

	deviceCmd.AddCommand(statusCmd, execCmd, gestureCmd, toolsCmd)
	return deviceCmd
}

func withDriver(ctx context.Context, cfg config.Interface, newDriver driverFactory, fn func(schemas.DeviceDriver) error) error {
	logger := observability.GetLogger()
	d, err := newDriver(ctx, cfg.Device(), logger)
	if err != nil {
		return fmt.Errorf("failed to create device driver: %w", err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Warn("Failed to close device driver", zap.Error(err))
		}
	}()
	return fn(d)
}

func runDeviceStatus(ctx context.Context, d schemas.DeviceDriver, out io.Writer) error {
	status, err := d.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to query device status: %w", err)
	}
	fmt.Fprintf(out, "Enabled:   %t\n", status.Enabled)
	fmt.Fprintf(out, "Connected: %t\n", status.Connected)
	if !status.Ready() {
		return schemas.ErrServiceUnavailable
	}

	dims, err := d.ScreenDimensions(ctx)
	if err != nil {
		fmt.Fprintln(out, "Screen:    unknown")
		return nil
	}
	fmt.Fprintf(out, "Screen:    %dx%d\n", dims.Width, dims.Height)
	return nil
}

func runDeviceExec(ctx context.Context, d schemas.DeviceDriver, call schemas.ToolCall, out io.Writer) error {
	gateway := agent.NewGateway(d, observability.GetLogger(), nil)
	outcome, err := gateway.Dispatch(ctx, call)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, outcome.Text)
	return nil
}

// gestureCall builds the tool call for a list of points along with its
// human readable rendering.
func gestureCall(points []schemas.NormalizedPoint) (schemas.ToolCall, string) {
	if len(points) == 1 {
		p := points[0]
		return schemas.ToolCall{
			ID:        "cli",
			Name:      string(agent.ToolTouch),
			Arguments: fmt.Sprintf(`{"x":%g,"y":%g}`, p.X, p.Y),
		}, device.FormatTouchCommand(p)
	}

	parts := make([]string, len(points))
	for i, p := range points {
		parts[i] = fmt.Sprintf(`{"x":%g,"y":%g}`, p.X, p.Y)
	}
	return schemas.ToolCall{
		ID:        "cli",
		Name:      string(agent.ToolSwipe),
		Arguments: `{"breakpoints":[` + strings.Join(parts, ",") + `]}`,
	}, device.FormatSwipeCommand(points)
}
