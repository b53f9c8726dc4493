// internal/device/factory.go
package device

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/automate-cli/api/schemas"
	"github.com/xkilldash9x/automate-cli/internal/config"
	"go.uber.org/zap"
)

// New creates the driver selected by cfg.Driver.
func New(ctx context.Context, cfg config.DeviceConfig, logger *zap.Logger) (schemas.DeviceDriver, error) {
	switch cfg.Driver {
	case config.DriverADB:
		return NewADBDriver(cfg.ADB, cfg.FallbackToDefaultSize, ExecRunner{}, logger), nil
	case config.DriverBrowser:
		return NewBrowserDriver(ctx, cfg.Browser, logger)
	case config.DriverSimulated:
		var apps []schemas.AppInfo
		for _, a := range cfg.Browser.Apps {
			apps = append(apps, schemas.AppInfo{Name: a.Name, Identifier: a.Identifier})
		}
		return NewSimulatedDriver(DefaultDimensions, apps, logger), nil
	default:
		return nil, fmt.Errorf("unsupported device driver %q", cfg.Driver)
	}
}
