package analysis

import (
	"strings"
)

func (t ChangeType) Valid() bool {
	switch t {
	case ChangeAdded, ChangeModified, ChangeDeleted, ChangeRenamed:
		return true
	}
	return false
}

func (t FileType) Valid() bool {
	switch t {
	case FileSource, FileTest, FileConfig, FileDocumentation, FileOther:
		return true
	}
	return false
}

func (c Complexity) Valid() bool {
	switch c {
	case ComplexityLow, ComplexityMedium, ComplexityHigh:
		return true
	}
	return false
}

func (r RiskLevel) Valid() bool { return r.Rank() > 0 }

func (p Priority) Valid() bool { return p.Rank() > 0 }

func (t TestType) Valid() bool {
	switch t {
	case TestUnit, TestIntegration, TestE2E, TestSecurity, TestPerformance:
		return true
	}
	return false
}

// Validate checks a change record against its contract.
func (c CodeChange) Validate() error {
	if strings.TrimSpace(c.FilePath) == "" {
		return SchemaErrorf("code change: file_path required")
	}
	if !c.ChangeType.Valid() {
		return SchemaErrorf("code change %s: invalid change_type %q", c.FilePath, c.ChangeType)
	}
	if !c.FileType.Valid() {
		return SchemaErrorf("code change %s: invalid file_type %q", c.FilePath, c.FileType)
	}
	if !c.ComplexityImpact.Valid() {
		return SchemaErrorf("code change %s: invalid complexity_impact %q", c.FilePath, c.ComplexityImpact)
	}
	if c.LinesAdded < 0 || c.LinesDeleted < 0 {
		return SchemaErrorf("code change %s: negative line counts", c.FilePath)
	}
	if c.ChangeType != ChangeDeleted && c.LinesChanged() == 0 {
		return SchemaErrorf("code change %s: zero line delta", c.FilePath)
	}
	return nil
}

// Validate checks a gap against its contract, including the critical-risk
// keyword policy.
func (g TestCoverageGap) Validate() error {
	if strings.TrimSpace(g.FilePath) == "" {
		return SchemaErrorf("coverage gap: file_path required")
	}
	if !g.RiskLevel.Valid() {
		return SchemaErrorf("coverage gap %s: invalid risk_level %q", g.FilePath, g.RiskLevel)
	}
	if strings.TrimSpace(g.Reason) == "" {
		return SchemaErrorf("coverage gap %s: reason required", g.FilePath)
	}
	for _, tt := range g.RecommendedTestTypes {
		if !tt.Valid() {
			return SchemaErrorf("coverage gap %s: invalid test type %q", g.FilePath, tt)
		}
	}
	if g.RiskLevel == RiskCritical && len(SensitiveKeywordsIn(g.Reason)) == 0 {
		return SchemaErrorf("coverage gap %s: critical risk without sensitive keyword in reason", g.FilePath)
	}
	return nil
}

// Validate checks a recommendation against its contract.
func (r TestRecommendation) Validate() error {
	if strings.TrimSpace(r.TestName) == "" {
		return SchemaErrorf("recommendation: test_name required")
	}
	if strings.TrimSpace(r.TestFile) == "" {
		return SchemaErrorf("recommendation %s: test_file required", r.TestName)
	}
	if !r.TestType.Valid() {
		return SchemaErrorf("recommendation %s: invalid test_type %q", r.TestName, r.TestType)
	}
	if !r.Priority.Valid() {
		return SchemaErrorf("recommendation %s: invalid priority %q", r.TestName, r.Priority)
	}
	if r.EstimatedDurationSeconds <= 0 {
		return SchemaErrorf("recommendation %s: estimated_duration_seconds must be positive", r.TestName)
	}
	return nil
}

// ValidateChanges validates every change in order.
func ValidateChanges(changes []CodeChange) error {
	for _, change := range changes {
		if err := change.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateGaps validates every gap and rejects duplicates by file path.
func ValidateGaps(gaps []TestCoverageGap) error {
	seen := make(map[string]struct{}, len(gaps))
	for _, gap := range gaps {
		if err := gap.Validate(); err != nil {
			return err
		}
		if _, ok := seen[gap.FilePath]; ok {
			return SchemaErrorf("coverage gap %s: duplicate file_path", gap.FilePath)
		}
		seen[gap.FilePath] = struct{}{}
	}
	return nil
}

// ValidatePlan checks recommendations and that each one references a known gap.
func ValidatePlan(plan TestExecutionPlan, gaps []TestCoverageGap) error {
	known := make(map[string]struct{}, len(gaps))
	for _, gap := range gaps {
		known[gap.FilePath] = struct{}{}
	}
	for _, rec := range plan.Recommendations {
		if err := rec.Validate(); err != nil {
			return err
		}
		if _, ok := known[rec.AddressesGap]; !ok {
			return SchemaErrorf("recommendation %s: addresses unknown gap %q", rec.TestName, rec.AddressesGap)
		}
	}
	if plan.EstimatedTotalDurationSeconds < 0 {
		return SchemaErrorf("plan: negative estimated_total_duration_seconds")
	}
	return nil
}
