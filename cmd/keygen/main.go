package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/zeroveil/gateway/internal/tenant"
)

func main() {
	var apiKey string
	switch len(os.Args) {
	case 1:
		// No key given: mint one.
		buf := make([]byte, 24)
		if _, err := rand.Read(buf); err != nil {
			fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
			os.Exit(1)
		}
		apiKey = "zv_" + hex.EncodeToString(buf)
	case 2:
		apiKey = os.Args[1]
	default:
		fmt.Println("Usage: keygen [api-key]")
		fmt.Println("Hashes an API key (or a freshly generated one) for the tenant registry.")
		os.Exit(1)
	}

	keyHash := tenant.HashKey(apiKey)

	fmt.Printf("API Key:     %s\n", apiKey)
	fmt.Printf("SHA-256 Hash: %s\n", keyHash)
	fmt.Println("\nAdd the hash to your tenants file:")
	fmt.Println(`  {`)
	fmt.Println(`    "tenant_id": "acme",`)
	fmt.Println(`    "name": "Acme Corp",`)
	fmt.Printf("    \"api_key_hashes\": [\"%s\"],\n", keyHash)
	fmt.Println(`    "rate_limit_rpm": 60,`)
	fmt.Println(`    "rate_limit_tpd": 100000,`)
	fmt.Println(`    "enabled": true`)
	fmt.Println(`  }`)
}
