//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"path"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	BINARY_NAME = "peerstream"
	BINARY_DIR  = "bin"
	CMD_PACKAGE = "./cmd/peerstream"
)

var Default = Build

func goEnv() map[string]string {
	return map[string]string{"CGO_ENABLED": "0"}
}

// Build compiles the CLI into bin/.
func Build() error {
	if err := os.MkdirAll(BINARY_DIR, 0o755); err != nil {
		return err
	}
	out := path.Join(BINARY_DIR, BINARY_NAME)
	fmt.Printf("[Go] Build %s\n", out)
	return sh.RunWith(goEnv(), "go", "build", "-trimpath", "-o", out, CMD_PACKAGE)
}

// Test runs every package test. PEER_DEBUG=1 turns on session debug logs.
func Test() error {
	mg.Deps(Vet)
	return sh.RunV("go", "test", "./...")
}

// Race runs the session and relay tests under the race detector.
func Race() error {
	return sh.RunV("go", "test", "-race", "./pkg/peer/...", "./pkg/eventloop/...", "./pkg/relay/...")
}

func Vet() error {
	return sh.RunV("go", "vet", "./...")
}

// Cross builds the CLI for the platforms a relay host usually runs.
func Cross() error {
	for _, target := range [][2]string{
		{"linux", "amd64"},
		{"linux", "arm64"},
		{"darwin", "arm64"},
	} {
		env := goEnv()
		env["GOOS"], env["GOARCH"] = target[0], target[1]
		out := path.Join(BINARY_DIR, fmt.Sprintf("%s-%s-%s", BINARY_NAME, target[0], target[1]))
		fmt.Printf("[Go] Build %s\n", out)
		if err := sh.RunWith(env, "go", "build", "-trimpath", "-o", out, CMD_PACKAGE); err != nil {
			return err
		}
	}
	return nil
}

func Clean() error {
	return sh.Rm(BINARY_DIR)
}
