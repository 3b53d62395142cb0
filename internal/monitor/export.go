package monitor

import (
	"bytes"
	"fmt"

	"github.com/prometheus/common/expfmt"
)

// ExportMetricsText renders the monitor's registry in the Prometheus
// text exposition format (# HELP / # TYPE comments plus name value
// lines), suitable for periodic scraping or the get_metrics tool.
func (m *Monitor) ExportMetricsText() (string, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return "", fmt.Errorf("gather metrics: %w", err)
	}

	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return "", fmt.Errorf("encode metrics: %w", err)
		}
	}
	return buf.String(), nil
}
