// internal/orchestrator/factory.go
//
// Tester factory. Builds the enabled testers, in configuration order, bound
// to the session of the scan being run.

package orchestrator

import (
	"fmt"

	"github.com/CodeMonkeyCybersecurity/webvuln/internal/config"
	"github.com/CodeMonkeyCybersecurity/webvuln/internal/logger"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/payloads"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/scanners"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/scanners/auth"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/scanners/misconfig"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/scanners/sqli"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/scanners/xss"
)

// TesterFactory builds testers for one scan.
type TesterFactory interface {
	Build(requester scanners.Requester) ([]scanners.Tester, error)
}

// DefaultFactory builds the four built-in testers.
type DefaultFactory struct {
	scan      config.ScanConfig
	catalogue *payloads.Catalogue
	logger    *logger.Logger
}

func NewDefaultFactory(scan config.ScanConfig, catalogue *payloads.Catalogue, log *logger.Logger) *DefaultFactory {
	return &DefaultFactory{scan: scan, catalogue: catalogue, logger: log}
}

func (f *DefaultFactory) Build(requester scanners.Requester) ([]scanners.Tester, error) {
	var testers []scanners.Tester
	for _, check := range f.scan.Checks() {
		switch check {
		case config.CheckSQLi:
			testers = append(testers, sqli.NewScanner(requester, f.catalogue.SQLInjection.Basic, sqli.Options{
				MaxPayloadsPerField: f.scan.MaxPayloadsPerField,
				MaxURLPayloads:      f.scan.MaxURLPayloads,
				MaxURLs:             f.scan.MaxURLs,
			}, f.logger))
		case config.CheckXSS:
			list := append(append([]string(nil), f.catalogue.XSS.Reflected...), f.catalogue.XSS.Polyglot...)
			testers = append(testers, xss.NewScanner(requester, list, xss.Options{
				MaxPayloadsPerField: f.scan.MaxPayloadsPerField,
				MaxURLPayloads:      f.scan.MaxURLPayloads,
				MaxURLs:             f.scan.MaxURLs,
			}, f.logger))
		case config.CheckAuth:
			testers = append(testers, auth.NewScanner(requester, f.catalogue.Authentication, auth.Options{
				MaxLoginForms:  f.scan.MaxLoginForms,
				MaxCredentials: f.scan.MaxCredentials,
			}, f.logger))
		case config.CheckConfig:
			testers = append(testers, misconfig.NewScanner(requester, f.catalogue.Config, f.logger))
		default:
			return nil, fmt.Errorf("%w: unknown check %q", config.ErrInvalidConfig, check)
		}
	}
	return testers, nil
}
