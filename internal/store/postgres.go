package store

import (
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Gateway on a pgx pool. Methods are grouped per
// entity across the files of this package.
type Postgres struct{ db *pgxpool.Pool }

func NewPostgres(db *pgxpool.Pool) *Postgres { return &Postgres{db: db} }

var _ Gateway = (*Postgres)(nil)

func marshalInfo(info map[string]any) ([]byte, error) {
	if info == nil {
		info = map[string]any{}
	}
	return json.Marshal(info)
}

func unmarshalInfo(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var info map[string]any
	if err := json.Unmarshal(raw, &info); err != nil {
		return map[string]any{}
	}
	return info
}
