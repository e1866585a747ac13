package thermal

import (
	"os"
	"strconv"
	"strings"

	"github.com/milhy545/adaptive-router/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// Advisor reports the host thermal state consulted before each routing
// decision. A request-supplied thermal override bypasses the advisor.
type Advisor interface {
	Reading() models.ThermalReading
}

// FileAdvisor reads a sysfs-style sensor file containing millidegrees
// Celsius and classifies it against the configured thresholds. Read
// failures degrade to NORMAL so a missing sensor never blocks routing.
type FileAdvisor struct {
	path      string
	elevatedC float64
	criticalC float64
}

// NewFileAdvisor builds an advisor from thermal configuration. Default
// thresholds are 75C elevated, 85C critical.
func NewFileAdvisor(cfg models.ThermalConfig) *FileAdvisor {
	elevated := cfg.ElevatedC
	if elevated <= 0 {
		elevated = 75
	}
	critical := cfg.CriticalC
	if critical <= 0 {
		critical = 85
	}
	return &FileAdvisor{
		path:      cfg.SensorPath,
		elevatedC: elevated,
		criticalC: critical,
	}
}

func (a *FileAdvisor) Reading() models.ThermalReading {
	if a.path == "" {
		return models.ThermalReading{State: models.ThermalNormal}
	}

	data, err := os.ReadFile(a.path)
	if err != nil {
		fiberlog.Warnf("ThermalAdvisor: failed to read sensor %s: %v", a.path, err)
		return models.ThermalReading{State: models.ThermalNormal}
	}

	milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		fiberlog.Warnf("ThermalAdvisor: unparseable sensor value in %s: %v", a.path, err)
		return models.ThermalReading{State: models.ThermalNormal}
	}

	temp := milli / 1000.0
	return models.ThermalReading{State: a.classify(temp), Temperature: temp}
}

func (a *FileAdvisor) classify(tempC float64) models.ThermalState {
	switch {
	case tempC >= a.criticalC:
		return models.ThermalCritical
	case tempC >= a.elevatedC:
		return models.ThermalElevated
	default:
		return models.ThermalNormal
	}
}

// StaticAdvisor always reports a fixed state. Useful for hosts without
// sensors and for tests.
type StaticAdvisor struct {
	State       models.ThermalState
	Temperature float64
}

func (a StaticAdvisor) Reading() models.ThermalReading {
	state := a.State
	if state == models.ThermalUnknown {
		state = models.ThermalNormal
	}
	return models.ThermalReading{State: state, Temperature: a.Temperature}
}
