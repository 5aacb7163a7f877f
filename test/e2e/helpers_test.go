package e2e

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// runStrata executes the binary with the test database and returns
// combined stdout/stderr. Fails the test on a non-zero exit unless
// wantErr is set.
func runStrata(t *testing.T, wantErr bool, args ...string) string {
	t.Helper()

	cmd := exec.Command(strataBin, append(args, "--dsn", databaseURL)...)
	cmd.Env = append(os.Environ(), "STRATA_CONFIG_PATH=/nonexistent/strata.yaml")

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	if wantErr && err == nil {
		t.Fatalf("strata %v: expected failure, got success\n%s", args, buf.String())
	}
	if !wantErr && err != nil {
		t.Fatalf("strata %v failed: %v\n%s", args, err, buf.String())
	}
	return buf.String()
}

// writeSource drops a CSV file into dir and returns its path.
func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) failed: %v", name, err)
	}
	return path
}
