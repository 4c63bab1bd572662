// Command probe finds a meter on the serial ports, reads every declared
// register once and prints the result.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/berfenger/meterlink/internal/config"
	"github.com/berfenger/meterlink/pkg/meter_modbus"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func newFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("probe", pflag.ExitOnError)
	flags.String("port", "", "serial port of the meter, empty to scan every port")
	flags.Uint("slave-id", 0, "unit address of the meter, 0 to scan the configured channels")
	flags.String("register-map", "", "register map file (json or yaml), empty for the built-in map")
	flags.String("backend", config.BackendRTU, "modbus library: rtu or goburrow")
	flags.Bool("dump-map", false, "print the effective register map as yaml and exit")
	flags.Bool("json", false, "print the scan as json")
	flags.Duration("timeout", 60*time.Second, "discovery timeout")
	flags.String("log-level", "warn", "log level")
	return flags
}

func main() {
	flags := newFlagSet()
	flags.Parse(os.Args[1:])

	v, err := newViper(flags)
	if err != nil {
		fail(err)
	}

	regmap, err := config.LoadRegisterMap(v.GetString("register_map"))
	if err != nil {
		fail(err)
	}

	if v.GetBool("dump-map") {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(regmap); err != nil {
			fail(err)
		}
		enc.Close()
		return
	}

	zapCfg := zap.NewDevelopmentConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(config.ParseLogLevel(v.GetString("log_level")))
	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	factory := meter_modbus.RTUTransportFactory()
	if v.GetString("serial.backend") == config.BackendGoburrow {
		factory = meter_modbus.GoburrowTransportFactory()
	}
	session := meter_modbus.NewReaderSession(regmap, factory, logger,
		meter_modbus.WithOverride(meter_modbus.Override{
			Port:    v.GetString("serial.port"),
			Address: uint8(v.GetUint("serial.slave_id")),
		}))
	defer session.Close()

	ctx, cancel := context.WithTimeout(context.Background(), v.GetDuration("timeout"))
	defer cancel()
	if err := session.Connect(ctx); err != nil {
		fail(err)
	}
	info := session.ConnectionInfo()
	rows := session.ScanRegisters()

	if v.GetBool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			Connection meter_modbus.ConnectionInfo `json:"connection"`
			Rows       []meter_modbus.ScanRow      `json:"rows"`
		}{info, rows}); err != nil {
			fail(err)
		}
		return
	}

	fmt.Printf("meter %s on %s, slave id %d\n\n", info.Identifier, info.Port, info.Address)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tFN\tREGISTER\tVALUE\tUNIT\tDESCRIPTION")
	for _, row := range rows {
		value := row.Reading.Value.String()
		if !row.Reading.Present() {
			value = "ERROR: " + row.Reading.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\n", row.Name, row.Fn, row.Register, value, row.Unit, row.Description)
	}
	w.Flush()
}

// flags stored under the service config keys, so both read the same
// environment variables
var configKeys = map[string]string{
	"port":         "serial.port",
	"slave-id":     "serial.slave_id",
	"backend":      "serial.backend",
	"register-map": "register_map",
	"log-level":    "log_level",
}

// newViper resolves the flags against the environment the service reads,
// legacy aliases included. A flag given on the command line wins.
func newViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	config.ApplyEnvAliases()

	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return nil, err
	}
	for flag, key := range configKeys {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "probe:", err)
	os.Exit(1)
}
