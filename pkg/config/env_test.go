package config

import (
	"os"
	"testing"
)

func TestGetEnv(t *testing.T) {
	// Test with existing env var
	os.Setenv("TEST_GET_ENV_VAR", "test_value")
	defer os.Unsetenv("TEST_GET_ENV_VAR")

	got := GetEnv("TEST_GET_ENV_VAR", "default")
	if got != "test_value" {
		t.Errorf("GetEnv() = %v, want %v", got, "test_value")
	}

	// Test with non-existing env var
	got = GetEnv("NON_EXISTING_VAR", "default_value")
	if got != "default_value" {
		t.Errorf("GetEnv() = %v, want %v", got, "default_value")
	}
}

func TestGetEnvironment(t *testing.T) {
	original := os.Getenv("FARMAFLOW_SERVER_ENVIRONMENT")
	defer func() {
		if original != "" {
			os.Setenv("FARMAFLOW_SERVER_ENVIRONMENT", original)
		} else {
			os.Unsetenv("FARMAFLOW_SERVER_ENVIRONMENT")
		}
	}()

	tests := []struct {
		envValue string
		want     string
	}{
		{"development", "development"},
		{"DEVELOPMENT", "development"},
		{"staging", "staging"},
		{"STAGING", "staging"},
		{"production", "production"},
		{"PRODUCTION", "production"},
		{"", "development"}, // default
	}

	for _, tt := range tests {
		if tt.envValue != "" {
			os.Setenv("FARMAFLOW_SERVER_ENVIRONMENT", tt.envValue)
		} else {
			os.Unsetenv("FARMAFLOW_SERVER_ENVIRONMENT")
		}

		got := GetEnvironment()
		if got != tt.want {
			t.Errorf("GetEnvironment() with %q = %v, want %v", tt.envValue, got, tt.want)
		}
	}
}

func TestIsDevelopment(t *testing.T) {
	original := os.Getenv("FARMAFLOW_SERVER_ENVIRONMENT")
	defer func() {
		if original != "" {
			os.Setenv("FARMAFLOW_SERVER_ENVIRONMENT", original)
		} else {
			os.Unsetenv("FARMAFLOW_SERVER_ENVIRONMENT")
		}
	}()

	os.Setenv("FARMAFLOW_SERVER_ENVIRONMENT", "development")
	if !IsDevelopment() {
		t.Error("IsDevelopment() should return true for development environment")
	}

	os.Setenv("FARMAFLOW_SERVER_ENVIRONMENT", "production")
	if IsDevelopment() {
		t.Error("IsDevelopment() should return false for production environment")
	}
}

func TestIsProduction(t *testing.T) {
	original := os.Getenv("FARMAFLOW_SERVER_ENVIRONMENT")
	defer func() {
		if original != "" {
			os.Setenv("FARMAFLOW_SERVER_ENVIRONMENT", original)
		} else {
			os.Unsetenv("FARMAFLOW_SERVER_ENVIRONMENT")
		}
	}()

	os.Setenv("FARMAFLOW_SERVER_ENVIRONMENT", "production")
	if !IsProduction() {
		t.Error("IsProduction() should return true for production environment")
	}

	os.Setenv("FARMAFLOW_SERVER_ENVIRONMENT", "development")
	if IsProduction() {
		t.Error("IsProduction() should return false for development environment")
	}
}

func TestIsProductionLike(t *testing.T) {
	original := os.Getenv("FARMAFLOW_SERVER_ENVIRONMENT")
	defer func() {
		if original != "" {
			os.Setenv("FARMAFLOW_SERVER_ENVIRONMENT", original)
		} else {
			os.Unsetenv("FARMAFLOW_SERVER_ENVIRONMENT")
		}
	}()

	os.Setenv("FARMAFLOW_SERVER_ENVIRONMENT", "production")
	if !IsProductionLike() {
		t.Error("IsProductionLike() should return true for production")
	}

	os.Setenv("FARMAFLOW_SERVER_ENVIRONMENT", "staging")
	if !IsProductionLike() {
		t.Error("IsProductionLike() should return true for staging")
	}

	os.Setenv("FARMAFLOW_SERVER_ENVIRONMENT", "development")
	if IsProductionLike() {
		t.Error("IsProductionLike() should return false for development")
	}
}
