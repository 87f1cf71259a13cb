package common

import (
	"os"
	"strconv"
)

type Config struct {
	Port          string
	FabricConfig  string
	ChannelName   string
	ChaincodeName string
	MSP           string
	CertPath      string
	KeyPath       string
	JWTSecret     string
	DB            DBConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

func LoadConfig() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		FabricConfig:  getEnv("FABRIC_CONFIG", "connection-profile.yaml"),
		ChannelName:   getEnv("CHANNEL_NAME", "badge-main-channel"),
		ChaincodeName: getEnv("CHAINCODE_NAME", "badge-registry"),
		MSP:           getEnv("MSP_ID", "WorkshopPlatformMSP"),
		CertPath:      getEnv("CERT_PATH", ""),
		KeyPath:       getEnv("KEY_PATH", ""),
		JWTSecret:     getEnv("JWT_SECRET", "super-secret-key-change-me"),
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "badges"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func GetEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return fallback
}
