package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sonowtf/sono/services/identity/internal/security"
)

func main() {
	dir := flag.String("out", "keys", "directory for private_key.pem and public_key.pem")
	bits := flag.Int("bits", security.DefaultKeyBits, "RSA modulus size")
	force := flag.Bool("force", false, "overwrite existing keys")
	flag.Parse()

	privPath := filepath.Join(*dir, "private_key.pem")
	pubPath := filepath.Join(*dir, "public_key.pem")
	if !*force {
		if _, err := os.Stat(privPath); err == nil {
			fmt.Fprintf(os.Stderr, "%s exists, pass -force to replace it\n", privPath)
			os.Exit(1)
		}
	}

	priv, pub, err := security.GenerateKeyPair(*bits)
	if err != nil {
		fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(*dir, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "create %s: %v\n", *dir, err)
		os.Exit(1)
	}
	if err := os.WriteFile(privPath, priv, 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "write private key: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(pubPath, pub, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write public key: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s and %s\n", privPath, pubPath)
}
