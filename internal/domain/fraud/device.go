package fraud

import (
	"context"
	"strings"
)

const (
	noFingerprintPoints = 15
	newDevicePoints     = 20
	deviceAnomalyPoints = 25
)

// anomalyFlags are trust flags that mark a known device as compromised
var anomalyFlags = map[string]struct{}{
	"jailbroken":  {},
	"rooted":      {},
	"emulator":    {},
	"tampered":    {},
	"vpn_spoofed": {},
}

// IsAnomalyFlag reports whether a trust flag marks a compromised device
func IsAnomalyFlag(flag string) bool {
	_, ok := anomalyFlags[strings.ToLower(flag)]
	return ok
}

// DeviceChecker evaluates trust in the device the redemption came from
type DeviceChecker struct{}

func NewDeviceChecker() *DeviceChecker {
	return &DeviceChecker{}
}

func (c *DeviceChecker) Factor() Factor { return FactorDevice }

// Check applies the first matching condition:
// missing fingerprint, unknown device, then anomaly flags on a known device.
func (c *DeviceChecker) Check(_ context.Context, ac *AnalysisContext) FactorResult {
	fp := ac.Transaction.DeviceFingerprint
	if fp == "" {
		return Violated(FactorDevice, noFingerprintPoints, []ReasonCode{ReasonNoDeviceFingerprint}, nil)
	}

	var records []DeviceRecord
	for _, r := range ac.DeviceHistory {
		if r.Fingerprint == fp {
			records = append(records, r)
		}
	}

	if len(records) == 0 && !ac.Profile.KnowsDevice(fp) {
		return Violated(FactorDevice, newDevicePoints, []ReasonCode{ReasonNewDevice}, map[string]any{"fingerprint": fp})
	}

	for _, r := range records {
		for _, flag := range r.TrustFlags {
			if IsAnomalyFlag(flag) {
				return Violated(FactorDevice, deviceAnomalyPoints, []ReasonCode{ReasonDeviceAnomaly}, map[string]any{
					"fingerprint": fp,
					"flag":        flag,
				})
			}
		}
	}

	return Pass(FactorDevice, map[string]any{"fingerprint": fp, "known": true})
}
