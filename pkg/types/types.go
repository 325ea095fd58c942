package types

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Severities lists every severity from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// Rank orders severities; a higher rank is more severe. Unknown values rank
// below info.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// ParseSeverity is case-insensitive and reports whether s was recognised.
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	return sev, sev.Rank() > 0
}

// VulnerabilityKind names the class of weakness a finding describes.
type VulnerabilityKind string

const (
	KindSQLInjection          VulnerabilityKind = "sql_injection"
	KindXSS                   VulnerabilityKind = "xss"
	KindWeakCredentials       VulnerabilityKind = "weak_credentials"
	KindAuthBypass            VulnerabilityKind = "authentication_bypass"
	KindInsecureCookie        VulnerabilityKind = "insecure_cookie"
	KindSessionManagement     VulnerabilityKind = "session_management"
	KindMissingCSRFToken      VulnerabilityKind = "missing_csrf_token"
	KindInsecurePasswordForm  VulnerabilityKind = "insecure_password_form"
	KindMissingSecurityHeader VulnerabilityKind = "missing_security_header"
	KindInformationDisclosure VulnerabilityKind = "information_disclosure"
	KindSensitiveFile         VulnerabilityKind = "sensitive_file_exposure"
	KindDefaultPage           VulnerabilityKind = "default_page_exposure"
	KindVerboseError          VulnerabilityKind = "verbose_error"
	KindVCSExposure           VulnerabilityKind = "vcs_metadata_exposure"
	KindDirectoryListing      VulnerabilityKind = "directory_listing"
)

type ScanStatus string

const (
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusPartial   ScanStatus = "partial"
	ScanStatusCancelled ScanStatus = "cancelled"
)

// Finding is a single piece of evidence produced by a tester. Findings are
// treated as values and are not modified once returned.
type Finding struct {
	ID             string            `json:"id"`
	Tester         string            `json:"tester"`
	Kind           VulnerabilityKind `json:"kind"`
	Severity       Severity          `json:"severity"`
	URL            string            `json:"url"`
	Method         string            `json:"method,omitempty"`
	Parameter      string            `json:"parameter,omitempty"`
	Payload        string            `json:"payload,omitempty"`
	Technique      string            `json:"technique,omitempty"`
	Evidence       string            `json:"evidence,omitempty"`
	Description    string            `json:"description"`
	Recommendation string            `json:"recommendation,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// NewFinding stamps a fresh ID and creation time on f and returns it.
func NewFinding(f Finding) Finding {
	f.ID = uuid.NewString()
	f.CreatedAt = time.Now().UTC()
	return f
}

// DedupKey identifies a finding for the at-most-once-per-parameter rule.
func (f Finding) DedupKey() string {
	return f.URL + "\x00" + f.Parameter + "\x00" + string(f.Kind)
}

// PhaseResult records how one scan phase ended.
type PhaseResult struct {
	Name     string        `json:"name"`
	Findings int           `json:"findings"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ScanReport is the single output of a scan.
type ScanReport struct {
	ID              string        `json:"id"`
	Target          string        `json:"target"`
	Status          ScanStatus    `json:"status"`
	Findings        []Finding     `json:"findings"`
	PagesScanned    int           `json:"pages_scanned"`
	FormsTested     int           `json:"forms_tested"`
	MaxPages        int           `json:"max_pages"`
	FailedPages     int           `json:"failed_pages"`
	ExternalLinks   int           `json:"external_links"`
	ChecksPerformed []string      `json:"checks_performed"`
	Phases          []PhaseResult `json:"phases"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     time.Time     `json:"completed_at"`
	Duration        time.Duration `json:"duration"`
}

// Summary counts findings per severity.
func (r *ScanReport) Summary() map[Severity]int {
	counts := make(map[Severity]int, len(Severities))
	for _, sev := range Severities {
		counts[sev] = 0
	}
	for _, f := range r.Findings {
		counts[f.Severity]++
	}
	return counts
}

// HighestSeverity returns the most severe finding's severity, or "" if there
// are no findings.
func (r *ScanReport) HighestSeverity() Severity {
	var best Severity
	for _, f := range r.Findings {
		if f.Severity.Rank() > best.Rank() {
			best = f.Severity
		}
	}
	return best
}

// SortFindings orders findings from most to least severe. Findings of equal
// severity keep their discovery order.
func SortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Severity.Rank() > findings[j].Severity.Rank()
	})
}
