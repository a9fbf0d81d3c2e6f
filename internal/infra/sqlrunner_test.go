package infra

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

func TestExtractMarker(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantMarker string
		wantSQL    string
		wantErr    bool
	}{
		{
			name:       "valid marker",
			query:      "--sql 2caa5b21-4c2b-4b72-8a36-7d3d0f9b77a1\nselect 1;\n",
			wantMarker: "2caa5b21-4c2b-4b72-8a36-7d3d0f9b77a1",
			wantSQL:    "select 1;",
		},
		{
			name:       "leading whitespace",
			query:      "\n  --sql 2caa5b21-4c2b-4b72-8a36-7d3d0f9b77a1\nselect 1;",
			wantMarker: "2caa5b21-4c2b-4b72-8a36-7d3d0f9b77a1",
			wantSQL:    "select 1;",
		},
		{
			name:    "missing marker",
			query:   "select 1;",
			wantErr: true,
		},
		{
			name:    "malformed uuid",
			query:   "--sql not-a-uuid\nselect 1;",
			wantErr: true,
		},
		{
			name:    "empty",
			query:   "   ",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			marker, sql, err := extractMarker(tc.query)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("extractMarker: %v", err)
			}
			if marker != tc.wantMarker {
				t.Fatalf("marker = %q, want %q", marker, tc.wantMarker)
			}
			if sql != tc.wantSQL {
				t.Fatalf("sql = %q, want %q", sql, tc.wantSQL)
			}
		})
	}
}

type recordingRaw struct {
	queries []string
}

func (r *recordingRaw) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	r.queries = append(r.queries, sql)
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (r *recordingRaw) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	r.queries = append(r.queries, sql)
	return errorRow{err: pgx.ErrNoRows}
}

func (r *recordingRaw) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	r.queries = append(r.queries, sql)
	return nil, errors.New("not supported")
}

func TestMarkedExecutorStripsMarkerAndRefusesUnmarked(t *testing.T) {
	raw := &recordingRaw{}
	exec := markedExecutor{raw: raw, logger: zerolog.Nop()}
	ctx := context.Background()

	tag, err := exec.Exec(ctx, "--sql 2caa5b21-4c2b-4b72-8a36-7d3d0f9b77a1\nupdate jobs set status = 'failed'")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if tag.RowsAffected() != 1 {
		t.Fatalf("rows = %d, want 1", tag.RowsAffected())
	}
	if len(raw.queries) != 1 || raw.queries[0] != "update jobs set status = 'failed'" {
		t.Fatalf("executed %q", raw.queries)
	}

	if _, err := exec.Exec(ctx, "delete from jobs"); err == nil {
		t.Fatal("unmarked Exec should fail")
	}
	if err := exec.QueryRow(ctx, "select 1").Scan(); err == nil {
		t.Fatal("unmarked QueryRow should fail on Scan")
	}
	if _, err := exec.Query(ctx, "select 1"); err == nil {
		t.Fatal("unmarked Query should fail")
	}
	if len(raw.queries) != 1 {
		t.Fatalf("unmarked statements reached the database: %q", raw.queries[1:])
	}

	if err := exec.QueryRow(ctx, "--sql 2caa5b21-4c2b-4b72-8a36-7d3d0f9b77a1\nselect 1").Scan(); !IsNoRows(err) {
		t.Fatalf("marked QueryRow err = %v, want no rows", err)
	}
}
