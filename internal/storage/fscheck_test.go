package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckLocalFilesystem(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dbPath := filepath.Join(root, "a", "b", "tours.db")

	cases := []struct {
		name    string
		fsType  string
		detErr  error
		wantErr string
	}{
		{name: "local ext4", fsType: "0xef53"},
		{name: "detection unavailable", fsType: ""},
		{name: "nfs mount", fsType: "nfs", wantErr: `network filesystem "nfs"`},
		{name: "smb uppercase", fsType: "SMBFS", wantErr: "state.path"},
		{name: "detector failure", detErr: errors.New("statfs boom"), wantErr: "statfs boom"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var inspected string
			err := checkLocalFilesystem(dbPath, func(p string) (string, error) {
				inspected = p
				return tc.fsType, tc.detErr
			})
			if inspected != root {
				t.Fatalf("expected detector to inspect %q, got %q", root, inspected)
			}
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}
