//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the shaders and runs the program.
func (Run) Engine() error {
	if err := buildShaders(); err != nil {
		return err
	}
	fmt.Println("Run engine...")
	if _, err := executeCmd("go", withArgs("run", ".", "-config", "raytracer.toml"), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs the unit tests. None of them need a GPU, but the backend needs cgo.
func (Run) Tests() error {
	_, err := executeCmd("go", withArgs("test", "-tags", "mage", "./engine/...", "./magefiles/..."), withEnv("CGO_ENABLED=1"), withStream())
	return err
}
