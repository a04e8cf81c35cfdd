//go:build mage

package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
)

// glslcTargetEnv matches the API version the renderer requests.
const glslcTargetEnv = "vulkan1.2"

type cmdOptions struct {
	args   []string
	env    []string
	stream bool
}

type cmdOption func(*cmdOptions)

func withArgs(args ...string) cmdOption {
	return func(o *cmdOptions) {
		o.args = args
	}
}

// withEnv appends KEY=VALUE pairs to the inherited environment.
func withEnv(env ...string) cmdOption {
	return func(o *cmdOptions) {
		o.env = append(o.env, env...)
	}
}

func withStream() cmdOption {
	return func(o *cmdOptions) {
		o.stream = true
	}
}

// glslcPath picks the shader compiler: $GLSLC, then the Vulkan SDK copy,
// then whatever glslc is on PATH.
func glslcPath(getenv func(string) string) string {
	if p := getenv("GLSLC"); p != "" {
		return p
	}
	if sdk := getenv("VULKAN_SDK"); sdk != "" {
		return filepath.Join(sdk, "bin", "glslc")
	}
	return "glslc"
}

// glslcArgs compiles src to out as SPIR-V. The stage is taken from the file
// extension (.rgen, .rmiss, .rchit).
func glslcArgs(src, out string, debug bool) []string {
	args := []string{"--target-env=" + glslcTargetEnv, "-O"}
	if debug {
		args = []string{"--target-env=" + glslcTargetEnv, "-g", "-O0"}
	}
	return append(args, src, "-o", out)
}

func compileShader(src, out string) error {
	_, err := executeCmd(glslcPath(os.Getenv), withArgs(glslcArgs(src, out, mg.Debug())...), withStream())
	if err != nil {
		return fmt.Errorf("failed to compile %s: %w", filepath.Base(src), err)
	}
	return nil
}

func executeCmd(command string, options ...cmdOption) (string, error) {
	opts := &cmdOptions{}
	for _, o := range options {
		o(opts)
	}

	fmt.Printf("Executing: %s %s\n", command, strings.Join(opts.args, " "))
	cmd := exec.Command(command, opts.args...)
	if len(opts.env) > 0 {
		cmd.Env = append(os.Environ(), opts.env...)
	}

	streamOutput := mg.Verbose() || opts.stream

	var b bytes.Buffer
	if streamOutput {
		cmd.Stdout = io.MultiWriter(&b, os.Stdout)
		cmd.Stderr = io.MultiWriter(&b, os.Stderr)
	} else {
		cmd.Stdout = &b
		cmd.Stderr = &b
	}
	if err := cmd.Run(); err != nil {
		if !streamOutput {
			fmt.Println("... failed command output:")
			fmt.Println(b.String())
		}
		return "", fmt.Errorf("error executing %s: %w", command, err)
	}
	return b.String(), nil
}
