package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteSchema(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "nested", "config.schema.json")

	if err := writeSchema(outPath, buildSchema()); err != nil {
		t.Fatalf("writeSchema failed: %v", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("failed to read schema: %v", err)
	}
	if !json.Valid(data) {
		t.Fatalf("schema is not valid JSON")
	}
	for _, field := range []string{"fixed_timestep", "velocity_iterations", "rollback_capacity", "frames_to_sleep", "cell_size"} {
		if !strings.Contains(string(data), `"`+field+`"`) {
			t.Errorf("schema does not describe %s", field)
		}
	}
	if _, err := os.Stat(outPath + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("expected the temp file to be renamed away, stat returned %v", err)
	}
}
