//go:build mage

package main

import (
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/target"
)

type Build mg.Namespace

const shaderDir = "assets/shaders"

// GLSL sources of the ray-tracing stages, compiled next to themselves.
var shaderSources = []string{
	"raygen.rgen",
	"miss.rmiss",
	"closesthit.rchit",
}

// Compiles the ray-tracing shaders to SPIR-V with glslc. Set GLSLC to pick
// a specific compiler; mage -debug keeps debug info.
func (Build) Shaders() error {
	return buildShaders()
}

// Compiles the program into ./bin.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	_, err := executeCmd("go", withArgs("build", "-o", filepath.Join("bin", "raytracer"), "."), withStream())
	return err
}

func buildShaders() error {
	for _, src := range shaderSources {
		in := filepath.Join(shaderDir, src)
		out := in + ".spv"
		stale, err := target.Path(out, in)
		if err != nil {
			return err
		}
		if !stale {
			continue
		}
		if err := compileShader(in, out); err != nil {
			return err
		}
	}
	return nil
}
