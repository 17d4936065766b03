package discovery

import (
	"log"
	"os"
	"strings"

	"github.com/pysugar/key-wallet-nexus/internal/util"
	"github.com/pysugar/key-wallet-nexus/internal/vault"
)

// Candidate is one discovered key, with its value masked for display.
type Candidate struct {
	Service     string `json:"service"`
	EnvVar      string `json:"envVar"`
	MaskedValue string `json:"maskedValue"`
	Vendor      string `json:"vendor,omitempty"`
	Valid       bool   `json:"valid"`
}

// ScanResult holds everything one environment scan turned up.
type ScanResult struct {
	Candidates []Candidate `json:"candidates"`
}

// Scan walks the known sources and reports which environment variables carry
// plausible API keys. Values are masked; use Resolve to read one back for
// import.
func Scan() *ScanResult {
	result := &ScanResult{Candidates: make([]Candidate, 0)}

	for _, source := range Sources {
		for _, envVar := range source.EnvVars {
			value := strings.TrimSpace(os.Getenv(envVar))
			if value == "" {
				continue
			}
			validation := vault.ValidateFormat(value)
			result.Candidates = append(result.Candidates, Candidate{
				Service:     source.Name,
				EnvVar:      envVar,
				MaskedValue: util.MaskSecret(value),
				Vendor:      vault.RecognizeVendor(value),
				Valid:       validation.Valid,
			})
		}
	}

	log.Printf("🔍 Discovery: found %d key candidates across %d sources", len(result.Candidates), len(Sources))
	return result
}

// Resolve reads a candidate's raw value back from the environment. It only
// honors variables listed in a known source, so an import request cannot be
// used to read arbitrary environment variables.
func Resolve(envVar string) (service, value string, ok bool) {
	for _, source := range Sources {
		for _, known := range source.EnvVars {
			if known != envVar {
				continue
			}
			value = strings.TrimSpace(os.Getenv(envVar))
			if value == "" {
				return "", "", false
			}
			return source.Name, value, true
		}
	}
	return "", "", false
}
