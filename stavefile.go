//go:build stave

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/yaklabco/stave/pkg/sh"
	"github.com/yaklabco/stave/pkg/st"

	"github.com/jamesainslie/crush/pkg/crush/optimizer"
)

// Default target when running `stave` with no arguments.
var Default = Build

// Aliases for common targets.
var Aliases = map[string]interface{}{
	"b": Build,
	"t": Test,
	"l": Lint,
	"i": Install,
	"c": Clean,
}

const (
	binaryName = "crush"
	mainPkg    = "./cmd/crush"
	versionPkg = "github.com/jamesainslie/crush/cmd/crush"
	binDir     = "bin"
)

// All lints, tests and builds.
func All() error {
	st.Deps(Lint, Test, Tools)
	st.Deps(Build)
	return nil
}

// Build compiles bin/crush with version information.
func Build() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating bin directory: %w", err)
	}
	return sh.RunV("go", "build", "-ldflags", ldflags(), "-o", executable(binDir), mainPkg)
}

// Install copies the built binary into GOBIN, GOPATH/bin or /usr/local/bin.
func Install() error {
	st.Deps(Build)

	dir, err := installDir()
	if err != nil {
		return err
	}
	src, dst := executable(binDir), executable(dir)
	if st.Verbose() {
		fmt.Printf("Installing %s to %s\n", src, dst)
	}
	return sh.Copy(dst, src)
}

// Uninstall removes the installed binary, if any.
func Uninstall() error {
	dir, err := installDir()
	if err != nil {
		return err
	}

	target := executable(dir)
	if _, err := os.Stat(target); os.IsNotExist(err) {
		if st.Verbose() {
			fmt.Printf("%s is not installed\n", target)
		}
		return nil
	}
	if st.Verbose() {
		fmt.Printf("Removing %s\n", target)
	}
	return os.Remove(target)
}

// Test runs the test suite with the race detector.
func Test() error {
	return sh.RunV("go", "test", "-race", "-cover", "./...")
}

// Tools checks that optipng and jpegoptim are on PATH.
func Tools() error {
	var missing []string
	reqs := optimizer.New(optimizer.Config{}).Requirements()
	for _, s := range optimizer.CheckBinaries(reqs) {
		if !s.Available {
			missing = append(missing, s.Command)
			continue
		}
		fmt.Printf("%-10s %s\n", s.Name, s.Path)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing optimizers: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Lint runs golangci-lint.
func Lint() error {
	return sh.RunV("golangci-lint", "run", "./...")
}

// Clean removes bin/.
func Clean() error {
	return sh.Rm(binDir + "/")
}

// Fmt formats the tree with gofmt and goimports.
func Fmt() error {
	if err := sh.Run("gofmt", "-w", "."); err != nil {
		return fmt.Errorf("running gofmt: %w", err)
	}
	return sh.Run("goimports", "-w", ".")
}

// Tidy runs go mod tidy.
func Tidy() error {
	return sh.RunV("go", "mod", "tidy")
}

// executable returns the crush binary path inside dir.
func executable(dir string) string {
	path := filepath.Join(dir, binaryName)
	if runtime.GOOS == "windows" {
		path += ".exe"
	}
	return path
}

// installDir resolves where `go install` would place binaries.
func installDir() (string, error) {
	gocmd := st.GoCmd()
	if bin, err := sh.Output(gocmd, "env", "GOBIN"); err != nil {
		return "", fmt.Errorf("determining GOBIN: %w", err)
	} else if bin != "" {
		return bin, nil
	}

	gopath, err := sh.Output(gocmd, "env", "GOPATH")
	if err != nil {
		return "", fmt.Errorf("determining GOPATH: %w", err)
	}
	if gopath == "" {
		return "/usr/local/bin", nil
	}
	return filepath.Join(gopath, "bin"), nil
}

// ldflags stamps version, commit and build date into cmd/crush.
func ldflags() string {
	version, commit := "dev", "unknown"
	if v, err := sh.Output("git", "describe", "--tags", "--always"); err == nil && v != "" {
		version = strings.TrimSpace(v)
	}
	if c, err := sh.Output("git", "rev-parse", "--short", "HEAD"); err == nil && c != "" {
		commit = strings.TrimSpace(c)
	}

	date := time.Now().UTC().Format(time.RFC3339)
	return fmt.Sprintf("-X %[1]s.version=%[2]s -X %[1]s.commit=%[3]s -X %[1]s.date=%[4]s",
		versionPkg, version, commit, date)
}
