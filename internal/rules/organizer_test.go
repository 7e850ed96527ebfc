package rules

import (
	"os"
	"path/filepath"
	"testing"
)

func writeResults(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "organizer_results.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %s", err)
	}
	return path
}

func TestValidateOrganizerResultsAccepts(t *testing.T) {
	path := writeResults(t, `{"indicator": [{"name": "accuracy", "value": 0.9}]}`)
	result, err := ValidateOrganizerResults(path)
	if err != nil {
		t.Fatalf("ValidateOrganizerResults: %s", err)
	}
	if _, ok := result["indicator"]; !ok {
		t.Error("expected indicator key to survive validation")
	}
}

func TestValidateOrganizerResultsRejectsNonObject(t *testing.T) {
	path := writeResults(t, `[1, 2, 3]`)
	if _, err := ValidateOrganizerResults(path); err == nil {
		t.Error("expected error for non-object JSON")
	}
}

func TestValidateOrganizerResultsRejectsMissingIndicator(t *testing.T) {
	path := writeResults(t, `{"score": 1}`)
	if _, err := ValidateOrganizerResults(path); err == nil {
		t.Error("expected error for missing indicator field")
	}
}

func TestValidateOrganizerResultsRejectsNonArrayIndicator(t *testing.T) {
	path := writeResults(t, `{"indicator": "not-an-array"}`)
	if _, err := ValidateOrganizerResults(path); err == nil {
		t.Error("expected error for non-array indicator field")
	}
}

func TestValidateOrganizerResultsRejectsInvalidJSON(t *testing.T) {
	path := writeResults(t, `{not json`)
	if _, err := ValidateOrganizerResults(path); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestValidateOrganizerResultsMissingFile(t *testing.T) {
	_, err := ValidateOrganizerResults(filepath.Join(t.TempDir(), "missing.json"))
	if err == nil {
		t.Error("expected error for missing file")
	}
	if !os.IsNotExist(err) {
		t.Errorf("expected a not-exist error, got %v", err)
	}
}

func TestAddRuntimeInfo(t *testing.T) {
	result := map[string]interface{}{"indicator": []interface{}{}}
	enriched := AddRuntimeInfo(result, 42.5, 128.0, 3.2)
	info, ok := enriched["runtimeInfo"].(RuntimeInfo)
	if !ok {
		t.Fatalf("expected runtimeInfo to be a RuntimeInfo, got %T", enriched["runtimeInfo"])
	}
	if info.CPU != 42.5 || info.Memory != 128.0 || info.Runtime != 3.2 {
		t.Errorf("unexpected runtimeInfo: %+v", info)
	}
}
