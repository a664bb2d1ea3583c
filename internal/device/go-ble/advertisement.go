package goble

import (
	"strings"

	"github.com/go-ble/ble"

	"github.com/logitow/blebridge/internal/device"
	"github.com/logitow/blebridge/internal/protocol"
)

// noTxPower is the value go-ble reports when the advertisement carries no TX power level
const noTxPower = 127

// convertAdvertisement copies a ble.Advertisement into the plain device metadata.
// Service UUIDs are normalized (lowercase, no dashes).
func convertAdvertisement(adv ble.Advertisement) device.Advertisement {
	out := device.Advertisement{
		LocalName:   adv.LocalName(),
		RSSI:        adv.RSSI(),
		Connectable: adv.Connectable(),
	}

	if svcs := adv.Services(); len(svcs) > 0 {
		out.Services = make([]string, len(svcs))
		for i, u := range svcs {
			out.Services[i] = device.NormalizeUUID(u.String())
		}
	}

	if md := adv.ManufacturerData(); len(md) > 0 {
		out.ManufacturerData = append([]byte(nil), md...)
	}

	if tx := adv.TxPowerLevel(); tx != noTxPower {
		out.TxPower = &tx
	}
	return out
}

// isBrick reports whether an advertisement belongs to a LOGITOW brick:
// either the local name carries prefix, or the data service is advertised.
func isBrick(prefix string, adv device.Advertisement) bool {
	if prefix == "" {
		if protocol.IsLogitowName(adv.LocalName) {
			return true
		}
	} else if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(adv.LocalName)), strings.ToUpper(prefix)) {
		return true
	}

	dataService := device.NormalizeUUID(protocol.DataServiceUUID)
	for _, s := range adv.Services {
		if s == dataService {
			return true
		}
	}
	return false
}
