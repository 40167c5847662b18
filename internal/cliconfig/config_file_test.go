package cliconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestApplyFileConfig(t *testing.T) {
	falseVal := false
	zero := 0

	tests := []struct {
		name       string
		fileConfig FileConfig
		changed    map[string]bool
		initial    Config
		expected   Config
		wantErr    bool
	}{
		{
			name: "applies all valid config values",
			fileConfig: FileConfig{
				ServiceURL:          "http://example.com",
				HubID:               "hub-7",
				SerialPort:          "/dev/ttyS1",
				SerialBaud:          19200,
				Source:              "spool",
				SyncInterval:        "1m",
				SyncInitialDelay:    "0s",
				SyncBatchSize:       25,
				SpoolMaxBytes:       1024,
				InferMissingMachine: &falseVal,
				BootstrapMachine:    &zero,
			},
			changed: map[string]bool{},
			initial: Config{InferMissingMachine: true, BootstrapMachine: 29, SyncInitialDelay: time.Second},
			expected: Config{
				ServiceURL:          "http://example.com",
				HubID:               "hub-7",
				SerialPort:          "/dev/ttyS1",
				SerialBaud:          19200,
				Source:              "spool",
				SyncInterval:        time.Minute,
				SyncBatchSize:       25,
				SpoolMaxBytes:       1024,
				InferMissingMachine: false,
				BootstrapMachine:    0,
			},
		},
		{
			name: "respects changed flags",
			fileConfig: FileConfig{
				SerialPort: "/dev/ttyS1",
				HubID:      "hub-file",
			},
			changed: map[string]bool{"serial-port": true},
			initial: Config{
				SerialPort: "/dev/ttyFLAG",
			},
			expected: Config{
				SerialPort: "/dev/ttyFLAG", // unchanged because flag was set
				HubID:      "hub-file",
			},
		},
		{
			name:       "returns error for invalid duration",
			fileConfig: FileConfig{Retention: "a week"},
			changed:    map[string]bool{},
			wantErr:    true,
		},
		{
			name:       "zero values leave defaults",
			fileConfig: FileConfig{},
			changed:    map[string]bool{},
			initial:    Config{SyncBatchSize: 10, InferMissingMachine: true, BootstrapMachine: 29},
			expected:   Config{SyncBatchSize: 10, InferMissingMachine: true, BootstrapMachine: 29},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.initial
			err := ApplyFileConfig(&cfg, tt.fileConfig, tt.changed)

			if tt.wantErr && err == nil {
				t.Error("ApplyFileConfig() expected error but got nil")
				return
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ApplyFileConfig() unexpected error: %v", err)
				return
			}
			if !tt.wantErr && cfg != tt.expected {
				t.Errorf("ApplyFileConfig() = %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}

func TestLoadFileConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.toml")

	tomlContent := `
service_url = "https://hub.example.com/"
hub_id = "hub-3"
serial_port = "/dev/ttyUSB0"
sync_interval = "45s"
max_records = 500
infer_missing_machine = false
bootstrap_machine = 0
`

	if err := os.WriteFile(configPath, []byte(tomlContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	fc, err := LoadFileConfig(configPath)
	if err != nil {
		t.Fatalf("LoadFileConfig() error = %v", err)
	}

	if fc.ServiceURL != "https://hub.example.com/" {
		t.Errorf("ServiceURL = %v, want https://hub.example.com/", fc.ServiceURL)
	}
	if fc.HubID != "hub-3" {
		t.Errorf("HubID = %v, want hub-3", fc.HubID)
	}
	if fc.SyncInterval != "45s" {
		t.Errorf("SyncInterval = %v, want 45s", fc.SyncInterval)
	}
	if fc.MaxRecords != 500 {
		t.Errorf("MaxRecords = %v, want 500", fc.MaxRecords)
	}
	if fc.InferMissingMachine == nil || *fc.InferMissingMachine {
		t.Errorf("InferMissingMachine = %v, want false", fc.InferMissingMachine)
	}
	if fc.BootstrapMachine == nil || *fc.BootstrapMachine != 0 {
		t.Errorf("BootstrapMachine = %v, want 0", fc.BootstrapMachine)
	}
}

func TestLoadFileConfig_InvalidFile(t *testing.T) {
	_, err := LoadFileConfig("/nonexistent/path/config.toml")
	if err == nil {
		t.Error("LoadFileConfig() expected error for nonexistent file")
	}
}

func TestLoadFileConfig_InvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.toml")

	invalidContent := `
serial_port = "/dev/ttyUSB0"
this is not valid toml
`

	if err := os.WriteFile(configPath, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	_, err := LoadFileConfig(configPath)
	if err == nil {
		t.Error("LoadFileConfig() expected error for invalid TOML")
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()

	if path != "" && !strings.Contains(path, ".edgeship") {
		t.Errorf("DefaultConfigPath() = %v, should contain .edgeship", path)
	}
}

func TestFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	existingFile := filepath.Join(tmpDir, "exists.txt")

	if err := os.WriteFile(existingFile, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	if !FileExists(existingFile) {
		t.Error("FileExists() = false, want true for existing file")
	}

	if FileExists(filepath.Join(tmpDir, "nonexistent.txt")) {
		t.Error("FileExists() = true, want false for nonexistent file")
	}
}
