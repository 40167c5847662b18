package cliconfig

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bft-labs/edgeship/internal/domain"
)

func TestLoadHubInfo(t *testing.T) {
	tmpDir := t.TempDir()
	creds := filepath.Join(tmpDir, "credentials.env")
	content := "MACHINE_TOKEN=tok-1\nMACHINE_ID=hub-from-file\nREFRESH_TOKEN=r\n"
	if err := os.WriteFile(creds, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	noToken := filepath.Join(tmpDir, "no-token.env")
	if err := os.WriteFile(noToken, []byte("MACHINE_ID=hub-2\n"), 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		wantHubID string
		wantFile  bool
	}{
		{
			name:      "hub id and token from file",
			cfg:       Config{TokenFile: creds},
			wantHubID: "hub-from-file",
			wantFile:  true,
		},
		{
			name:      "explicit hub id wins",
			cfg:       Config{TokenFile: creds, HubID: "hub-flag"},
			wantHubID: "hub-flag",
			wantFile:  true,
		},
		{
			name:      "static token without file",
			cfg:       Config{TokenFile: filepath.Join(tmpDir, "missing.env"), HubID: "hub-1", Token: "static"},
			wantHubID: "hub-1",
		},
		{
			name:    "missing hub id",
			cfg:     Config{Token: "static"},
			wantErr: true,
		},
		{
			name:    "no credential source",
			cfg:     Config{HubID: "hub-1"},
			wantErr: true,
		},
		{
			name:      "file without token",
			cfg:       Config{TokenFile: noToken},
			wantHubID: "hub-2",
			wantFile:  true,
		},
		{
			name:     "file not written yet",
			cfg:      Config{TokenFile: filepath.Join(tmpDir, "later.env")},
			wantFile: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			err := LoadHubInfo(&cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadHubInfo() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, domain.ErrInvalidConfig) {
					t.Errorf("LoadHubInfo() error = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if cfg.HubID != tt.wantHubID {
				t.Errorf("HubID = %v, want %v", cfg.HubID, tt.wantHubID)
			}
			if got := cfg.UseTokenFile(); got != tt.wantFile {
				t.Errorf("UseTokenFile() = %v, want %v", got, tt.wantFile)
			}
		})
	}
}
