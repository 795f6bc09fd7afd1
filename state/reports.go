package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/izavyalov-dev/delta-qa/analysis"
)

// SaveReport stores the terminal report of a run. Saving twice replaces the first copy.
func (s *Store) SaveReport(ctx context.Context, report analysis.AnalysisReport) error {
	if report.RunID == "" {
		return errors.New("report run_id required")
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report %s: %w", report.RunID, err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO analysis_reports (run_id, delivery_id, repository, pr_number, status, risk_score, report)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (run_id)
DO UPDATE SET status = EXCLUDED.status,
              risk_score = EXCLUDED.risk_score,
              report = EXCLUDED.report
`, report.RunID, report.DeliveryID, report.Repository, report.PRNumber, report.Status, report.RiskScore, payload)
	return err
}

// GetReportByDelivery returns the newest report produced for a delivery.
func (s *Store) GetReportByDelivery(ctx context.Context, deliveryID string) (analysis.AnalysisReport, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
SELECT report
FROM analysis_reports
WHERE delivery_id = $1
ORDER BY created_at DESC
LIMIT 1
`, deliveryID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return analysis.AnalysisReport{}, fmt.Errorf("%w: report for delivery %s", ErrNotFound, deliveryID)
		}
		return analysis.AnalysisReport{}, err
	}

	var report analysis.AnalysisReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return analysis.AnalysisReport{}, fmt.Errorf("decode report for delivery %s: %w", deliveryID, err)
	}
	return report, nil
}
