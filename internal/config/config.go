// Package config loads the binaries' settings from the environment, with a
// .env file picked up when present.
package config

import (
	"os"

	"github.com/joho/godotenv"
)

// TokenServer configures the credential-issuing service. AppID and
// AppCertificate are the shared secret with the media engine; leaving them
// unset makes /get-token report a server-side misconfiguration.
type TokenServer struct {
	Port           string
	AppID          string
	AppCertificate string
}

func LoadTokenServer() TokenServer {
	godotenv.Load()
	return TokenServer{
		Port:           getEnv("PORT", "8080"),
		AppID:          getEnv("APP_ID", ""),
		AppCertificate: getEnv("APP_CERTIFICATE", ""),
	}
}

// StoreServer configures the realtime key-value store service.
type StoreServer struct {
	Port string
}

func LoadStoreServer() StoreServer {
	godotenv.Load()
	return StoreServer{
		Port: getEnv("PORT", "9090"),
	}
}

// Client configures a call client: where the store and token services live
// and who this user is. RedisURL, when set, selects the Redis store adapter
// instead of the websocket one.
type Client struct {
	StoreURL    string
	TokenURL    string
	AppID       string
	RedisURL    string
	UserID      string
	DisplayName string
	Email       string
}

func LoadClient() Client {
	godotenv.Load()
	return Client{
		StoreURL:    getEnv("STORE_URL", "ws://localhost:9090/store"),
		TokenURL:    getEnv("TOKEN_URL", "http://localhost:8080"),
		AppID:       getEnv("APP_ID", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		UserID:      getEnv("USER_ID", ""),
		DisplayName: getEnv("DISPLAY_NAME", ""),
		Email:       getEnv("EMAIL", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
