package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ExportFormat selects the encoding of an audit log export
type ExportFormat string

const (
	ExportJSON   ExportFormat = "json"
	ExportNDJSON ExportFormat = "ndjson"
	ExportCSV    ExportFormat = "csv"
)

// ContentType returns the MIME type for the format
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportCSV:
		return "text/csv"
	case ExportNDJSON:
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}

// Export encodes entries in the requested format
func Export(entries []*AuditLogEntry, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportJSON, "":
		return json.Marshal(entries)
	case ExportNDJSON:
		return exportNDJSON(entries)
	case ExportCSV:
		return exportCSV(entries)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

func exportNDJSON(entries []*AuditLogEntry) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for _, entry := range entries {
		if err := encoder.Encode(entry); err != nil {
			return nil, fmt.Errorf("failed to encode entry: %w", err)
		}
	}

	return buf.Bytes(), nil
}

func exportCSV(entries []*AuditLogEntry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{
		"ID",
		"Timestamp",
		"UserID",
		"Action",
		"Resource",
		"ResourceID",
		"Allowed",
		"Reason",
		"IP",
		"UserAgent",
		"SessionID",
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, entry := range entries {
		row := []string{
			strconv.FormatInt(entry.ID, 10),
			entry.Timestamp.UTC().Format(time.RFC3339),
			entry.UserID,
			entry.Action,
			entry.Resource,
			entry.ResourceID,
			strconv.FormatBool(entry.Allowed),
			entry.Reason,
			entry.IP,
			entry.UserAgent,
			entry.SessionID,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}
