package main

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/pantrylab/pantryd/internal/httpapi"
	"github.com/pantrylab/pantryd/internal/pantry"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("skipping .env: %v", err)
	}

	addr := os.Getenv("PANTRYD_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	stateBackend, err := buildStateBackendFromEnv()
	if err != nil {
		log.Fatalf("failed to initialize state backend: %v", err)
	}

	registry, err := buildStoreRegistryFromEnv()
	if err != nil {
		log.Fatalf("failed to initialize store registry: %v", err)
	}
	defer registry.Close()

	store := pantry.NewStoreWithOptions(pantry.StoreOptions{
		StateBackend: stateBackend,
		StateFile:    os.Getenv("PANTRYD_STATE_FILE"),
		Registry:     registry,
		MaxClients:   intEnv("PANTRYD_MAX_CLIENTS", 0),
	})
	defer store.Close()

	server := httpapi.NewServerWithConfig(store, httpapi.NewHub(), httpapi.ServerConfig{
		MaxBodyBytes: int64Env("PANTRYD_MAX_BODY_BYTES", 0),
	})

	log.Printf("pantryd listening on %s", addr)
	if err := http.ListenAndServe(addr, server); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func buildStateBackendFromEnv() (pantry.StateBackend, error) {
	stateBackendDSN := strings.TrimSpace(os.Getenv("PANTRYD_STATE_BACKEND_DSN"))
	stateFile := strings.TrimSpace(os.Getenv("PANTRYD_STATE_FILE"))
	switch {
	case stateBackendDSN != "":
		return pantry.BuildStateBackendFromDSN(stateBackendDSN)
	case stateFile != "":
		return pantry.BuildStateBackendFromDSN(stateFile)
	default:
		return nil, nil
	}
}

func buildStoreRegistryFromEnv() (*pantry.StoreRegistry, error) {
	storesFile := strings.TrimSpace(os.Getenv("PANTRYD_STORES_FILE"))
	if storesFile == "" {
		return pantry.NewStoreRegistry(), nil
	}
	registry, err := pantry.NewStoreRegistryFromFile(storesFile)
	if err != nil {
		return nil, err
	}
	if boolEnv("PANTRYD_WATCH_STORES", false) {
		if err := registry.Watch(storesFile); err != nil {
			log.Printf("store registry watch disabled: %v", err)
		}
	}
	return registry, nil
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func boolEnv(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %t", name, raw, fallback)
		return fallback
	}
	return value
}
