package boiledrepos

import (
	"database/sql"
	"testing"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/suivi/core"
	"github.com/trezcool/suivi/core/progress"
)

func Test_trapErr(t *testing.T) {
	other := errors.New("connection refused")

	tests := []struct {
		name         string
		err          error
		wantCause    error
		wantShutdown bool
	}{
		{name: "nil", err: nil},
		{name: "no rows", err: sql.ErrNoRows, wantCause: progress.ErrNotFound},
		{name: "serialization failure", err: &pq.Error{Code: "40001"}, wantCause: progress.ErrConflict},
		{name: "deadlock", err: errors.Wrap(&pq.Error{Code: "40P01"}, "saving"), wantCause: progress.ErrConflict},
		{name: "lock not available", err: &pq.Error{Code: "55P03"}, wantCause: progress.ErrConflict},
		{name: "data corrupted", err: &pq.Error{Code: "XX001", Message: "invalid page"}, wantShutdown: true},
		{name: "index corrupted", err: &pq.Error{Code: "XX002"}, wantShutdown: true},
		{name: "other", err: other, wantCause: other},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := trapErr(tt.err, "testing")
			if core.IsShutdown(err) != tt.wantShutdown {
				t.Fatalf("IsShutdown(trapErr()) = %v, want %v (err %v)", !tt.wantShutdown, tt.wantShutdown, err)
			}
			if !tt.wantShutdown && errors.Cause(err) != tt.wantCause {
				t.Errorf("trapErr() cause = %v, want %v", errors.Cause(err), tt.wantCause)
			}
		})
	}
}
