// Package main is a utility for hashing API keys. The registry config can
// carry either a plaintext api_key or an api_key_hash; this tool produces the
// hash form so the raw key never has to appear in config files or environment
// dumps. Reads the key from the first argument or stdin, prints the hash.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/nuget-registry/nuget-registry/internal/auth"
)

func main() {
	key, err := readKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	hash, err := auth.HashSecret(key, auth.DefaultHashIterations)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}

func readKey() (string, error) {
	if len(os.Args) > 1 {
		return os.Args[1], nil
	}

	fmt.Fprint(os.Stderr, "API key: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read key: %w", err)
	}
	key := strings.TrimSpace(line)
	if key == "" {
		return "", fmt.Errorf("key must not be empty")
	}
	return key, nil
}
