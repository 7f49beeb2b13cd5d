package sqlitestore

import (
	"context"
	"encoding/json"

	"github.com/rgranatodutra/wwebjs-api/errors"
	"github.com/rgranatodutra/wwebjs-api/storage"
)

// SaveAuditRecord inserts one audit record. Marshal failures of individual
// payloads degrade to null columns rather than dropping the record.
func (s *Store) SaveAuditRecord(ctx context.Context, record *storage.AuditRecord) error {
	inputJSON := marshalOrNull(record.Input)
	outputJSON := marshalOrNull(record.Output)
	entriesJSON := marshalOrNull(record.Entries)

	hasError := 0
	if record.HasError {
		hasError = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processing_logs
			(instance, process_name, process_id, start_time, end_time, duration_ms,
			 input_json, output_json, entries_json, has_error, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.Instance, record.ProcessName, record.ProcessID,
		record.StartTime, record.EndTime, record.Duration.Milliseconds(),
		inputJSON, outputJSON, entriesJSON, hasError, record.Error)
	if err != nil {
		return errors.WrapTransient(err, "Store", "SaveAuditRecord", "inserting record "+record.ProcessID)
	}
	return nil
}

func marshalOrNull(v any) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(data)
}
