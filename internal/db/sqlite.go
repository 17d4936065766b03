package db

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/key-wallet-nexus/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB opens the SQLite database and runs migrations.
func InitDB(dbPath string) (*gorm.DB, error) {
	database, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := database.AutoMigrate(&models.Credential{}, &models.CostRecord{}, &models.Config{}); err != nil {
		return nil, err
	}

	// Ensure gateway API key exists (generated on first run)
	ensureGatewayKey(database)

	return database, nil
}

// ensureGatewayKey generates the gateway API key if not present
func ensureGatewayKey(database *gorm.DB) {
	var config models.Config
	result := database.Where("key = ?", "gateway_api_key").First(&config)

	if result.Error != nil {
		apiKey := "sk-" + randomHex(16)
		database.Create(&models.Config{
			Key:   "gateway_api_key",
			Value: apiKey,
		})
		log.Printf("🔑 Generated new gateway API key: %s", apiKey)
	}
}

// GetGatewayKey retrieves the gateway API key from the database
func GetGatewayKey(database *gorm.DB) string {
	var config models.Config
	database.Where("key = ?", "gateway_api_key").First(&config)
	return config.Value
}

// RegenerateGatewayKey creates a new gateway API key
func RegenerateGatewayKey(database *gorm.DB) string {
	apiKey := "sk-" + randomHex(16)
	database.Model(&models.Config{}).Where("key = ?", "gateway_api_key").Update("value", apiKey)
	log.Printf("🔑 Regenerated gateway API key")
	return apiKey
}

// EnsureMasterKey resolves the vault master key: WALLET_MASTER_KEY if set,
// otherwise a generated value persisted in the config table so dev setups
// survive restarts.
func EnsureMasterKey(database *gorm.DB) string {
	if key := os.Getenv("WALLET_MASTER_KEY"); key != "" {
		return key
	}

	var config models.Config
	if err := database.Where("key = ?", "master_key").First(&config).Error; err == nil {
		return config.Value
	}

	key := randomHex(32)
	database.Create(&models.Config{
		Key:   "master_key",
		Value: key,
	})
	log.Printf("🔑 Generated vault master key (set WALLET_MASTER_KEY to override)")
	return key
}

func randomHex(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return hex.EncodeToString(b)
}
