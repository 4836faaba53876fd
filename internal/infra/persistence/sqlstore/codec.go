package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"hlskb/pkg/domain"
)

func toMicros(t time.Time) int64 { return t.UTC().UnixMicro() }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func encodePragmas(p []string) (string, error) {
	if p == nil {
		p = []string{}
	}
	return encodeJSON(p)
}

func decodePragmas(raw string) ([]string, error) {
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode pragmas_used: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func encodeReference(md *domain.ReferenceMetadata) (sql.NullString, error) {
	if md == nil {
		return sql.NullString{}, nil
	}
	s, err := encodeJSON(md)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

func decodeReference(raw sql.NullString) (*domain.ReferenceMetadata, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var md domain.ReferenceMetadata
	if err := json.Unmarshal([]byte(raw.String), &md); err != nil {
		return nil, fmt.Errorf("decode reference_metadata: %w", err)
	}
	return &md, nil
}

func encodeResources(ru domain.ResourceUsage) (string, error) {
	if ru == nil {
		return "{}", nil
	}
	return encodeJSON(ru)
}

func decodeResources(raw string) (domain.ResourceUsage, error) {
	var ru domain.ResourceUsage
	if err := json.Unmarshal([]byte(raw), &ru); err != nil {
		return nil, fmt.Errorf("decode resource_usage: %w", err)
	}
	if len(ru) == 0 {
		return nil, nil
	}
	return ru, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullCode(code string) sql.NullString {
	if code == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: code, Valid: true}
}
