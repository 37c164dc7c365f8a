package types

import (
	"strings"
	"testing"
)

func TestValidateMachineName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "karetao", false},
		{"punctuation", "nao_01.lab-2", false},
		{"empty", "", true},
		{"space", "bob the robot", true},
		{"slash", "bob/2", true},
		{"too long", strings.Repeat("a", 51), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMachineName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMachineName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && err != ErrInvalidMachineName {
				t.Errorf("Expected ErrInvalidMachineName, got %v", err)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"with spaces", "Whaea Mere", false},
		{"unicode", "Tāne", false},
		{"empty", "", true},
		{"tab", "Mi\ta", true},
		{"too long", strings.Repeat("a", 101), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateName(tt.input); (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
