package config

import (
	"fmt"
	"log/slog"

	"github.com/berfenger/meterlink/pkg/meter_modbus"
	"github.com/spf13/viper"
)

// LoadRegisterMap reads a JSON or YAML register map file, chosen by
// extension. An empty path selects the built-in CH30 map.
func LoadRegisterMap(path string) (meter_modbus.RegisterMap, error) {
	if path == "" {
		return meter_modbus.Prepare(meter_modbus.DefaultRegisterMap())
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return meter_modbus.RegisterMap{}, fmt.Errorf("%w: read %s: %w", meter_modbus.ErrConfig, path, err)
	}

	var regmap meter_modbus.RegisterMap
	if err := v.Unmarshal(&regmap); err != nil {
		return meter_modbus.RegisterMap{}, fmt.Errorf("%w: parse %s: %w", meter_modbus.ErrConfig, path, err)
	}
	for _, name := range meter_modbus.LegacyMixedOrders(regmap) {
		slog.Warn("register map: endian badc/cdab are read as named here, use wordorder with the swapped name for older maps",
			"file", path, "measurement", name)
	}
	return meter_modbus.Prepare(regmap)
}
