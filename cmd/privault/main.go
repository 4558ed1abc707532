package main

import (
	"log"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/privault/privault/pkg/api"
	"github.com/privault/privault/pkg/blob"
	"github.com/privault/privault/pkg/config"
	"github.com/privault/privault/pkg/crypto"
	"github.com/privault/privault/pkg/hashing"
	"github.com/privault/privault/pkg/keys"
	"github.com/privault/privault/pkg/store"
	"github.com/privault/privault/pkg/vault"
)

func main() {
	cfg := config.Load()
	if cfg.API.Key == "" {
		log.Fatal("API key must be set via PRIVAULT_API_KEY or the config file")
	}

	for _, dir := range []string{filepath.Dir(cfg.Storage.KeyPath), filepath.Dir(cfg.Storage.Database)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatal("Failed to create data directory: ", err)
		}
	}

	masterKey, err := keys.NewManager(cfg.Storage.KeyPath).LoadOrCreate()
	if err != nil {
		log.Fatal("Failed to load master key: ", err)
	}

	encryptor, err := crypto.NewEncryptor(masterKey)
	if err != nil {
		log.Fatal("Failed to initialize encryptor: ", err)
	}

	meta, err := store.Open(cfg.Storage.Database)
	if err != nil {
		log.Fatal("Failed to open metadata store: ", err)
	}
	defer meta.Close()

	blobs, err := blob.NewStore(cfg.Storage.BlobPath)
	if err != nil {
		log.Fatal("Failed to open blob store: ", err)
	}

	manager := vault.New(hashing.Hasher{}, encryptor, meta, blobs)

	router := gin.Default()
	api.New(manager, cfg.API.Key).RegisterRoutes(router)

	log.Printf("Vault data in %s, starting server on port %s",
		filepath.Dir(cfg.Storage.Database), cfg.API.Port)
	if err := router.Run(":" + cfg.API.Port); err != nil {
		log.Fatal("Failed to start server: ", err)
	}
}
