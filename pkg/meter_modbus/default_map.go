package meter_modbus

// DefaultRegisterMap describes a KRON CH30 three phase meter on its factory
// serial settings. Values are IEEE-754 floats in input registers.
func DefaultRegisterMap() RegisterMap {
	return RegisterMap{
		Settings: Settings{
			Baudrate:      9600,
			Bytesize:      8,
			Parity:        "N",
			Stopbits:      2,
			Timeout:       1.5,
			ScanAddresses: []uint8{1, 2, 3, 4},
		},
		Channels: []ChannelSpec{
			{
				Name:    "CH30 canal 1",
				Address: 1,
				Detection: DetectionSpec{
					Fn:             ReadHoldingRegisters,
					Register:       0,
					Count:          2,
					Type:           TypeString,
					ExpectedPrefix: "CH30",
				},
			},
		},
		Measurements: []MeasurementSpec{
			kronFloat("tensao_l1", 0, "V", "Tensão fase-neutro L1", false),
			kronFloat("tensao_l2", 2, "V", "Tensão fase-neutro L2", false),
			kronFloat("tensao_l3", 4, "V", "Tensão fase-neutro L3", false),
			kronFloat("tensao_ll_l1", 6, "V", "Tensão linha-linha R-S", true),
			kronFloat("tensao_ll_l2", 8, "V", "Tensão linha-linha S-T", true),
			kronFloat("tensao_ll_l3", 10, "V", "Tensão linha-linha T-R", true),
			kronFloat("potencia_kw_inst", 20, "kW", "Potência ativa instantânea", true),
			kronFloat("energia_kwh_a", 40, "kWh", "Energia canal A acumulada", true),
			kronFloat("energia_kwh_b", 42, "kWh", "Energia canal B acumulada", false),
			kronFloat("frequencia", 60, "Hz", "Frequência", true),
			kronFloat("fp_avg", 70, "pu", "Fator de potência médio", true),
		},
	}
}

func kronFloat(name string, register uint16, unit, description string, relevant bool) MeasurementSpec {
	return MeasurementSpec{
		Name:        name,
		Fn:          ReadInputRegisters,
		Register:    register,
		Count:       2,
		Type:        TypeFloat32,
		ByteOrder:   ByteOrderBig,
		WordOrder:   WordOrderBig,
		Unit:        unit,
		Description: description,
		Relevant:    relevant,
	}
}
