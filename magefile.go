//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Default target to run when none is specified
// If not set, running mage will list available targets
var Default = Build

// cgoEnv passes the HDF5 flags of the environment on to the go tool.
func cgoEnv() map[string]string {
	return map[string]string{
		"CGO_ENABLED": "1",
		"CGO_LDFLAGS": os.Getenv("CGO_LDFLAGS"),
		"CGO_CFLAGS":  os.Getenv("CGO_CFLAGS"),
	}
}

func Build() error {
	mg.Deps(BuildCity)
	fmt.Println("Compilation finished")
	return nil
}

func BuildCity() error {
	fmt.Println("Building city executable...")
	cmd := exec.Command("go", "build", "-o", "./bin/city", "./city")
	cmd.Env = os.Environ()
	for k, v := range cgoEnv() {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// Test runs the tests of every package.
func Test() error {
	fmt.Println("Running tests...")
	return sh.RunWithV(cgoEnv(), "go", "test", "./...")
}

func Clean() error {
	fmt.Println("Cleaning...")
	return sh.Rm("./bin")
}
