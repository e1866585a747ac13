package models

// ThermalState is the coarse host temperature classification consumed by the
// router. The concrete reading mechanism lives behind the thermal.Advisor
// interface; only this enum and the raw reading cross the boundary.
type ThermalState string

const (
	ThermalUnknown  ThermalState = ""
	ThermalNormal   ThermalState = "NORMAL"
	ThermalElevated ThermalState = "ELEVATED"
	ThermalCritical ThermalState = "CRITICAL"
)

// ThermalReading is the advisor's answer: classification plus the raw value.
type ThermalReading struct {
	State       ThermalState `json:"state"`
	Temperature float64      `json:"temperature"`
}

// ThermalConfig holds operator-tunable thermal policy. Thresholds are
// configuration, never hard-coded router logic.
type ThermalConfig struct {
	// SensorPath points at a sysfs-style file with millidegrees Celsius.
	// Empty disables thermal readings (state NORMAL is assumed).
	SensorPath string  `yaml:"sensor_path" json:"sensor_path,omitzero"`
	ElevatedC  float64 `yaml:"elevated_c" json:"elevated_c,omitzero"`
	CriticalC  float64 `yaml:"critical_c" json:"critical_c,omitzero"`
}
