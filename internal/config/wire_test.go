//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package config_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers
	"github.com/sirupsen/logrus"

	"github.com/joe/remotefs/internal/config"
	"github.com/joe/remotefs/pkg/fileops"
	"github.com/joe/remotefs/pkg/filesystem"
)

func TestBuild_WiresLocalOperations(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	dir := t.TempDir()

	g.Expect(os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o600)).Should(Succeed())

	cfg, err := config.Parse([]string{"--log-level", "debug", "rename", filepath.Join(dir, "a.txt"), "b.txt"})
	g.Expect(err).ShouldNot(HaveOccurred())

	app, err := config.Build(cfg, io.Discard)
	g.Expect(err).ShouldNot(HaveOccurred())

	defer app.Close()

	g.Expect(app.Logger.GetLevel()).Should(Equal(logrus.DebugLevel))

	result := app.Orchestrator.Execute(context.Background(), fileops.Rename{File: cfg.Rename.Ref, NewName: cfg.Rename.Name})
	g.Expect(result).Should(BeAssignableToTypeOf(fileops.Success{}))
	g.Expect(filepath.Join(dir, "b.txt")).Should(BeAnExistingFile())

	families, err := app.Registry.Gather()
	g.Expect(err).ShouldNot(HaveOccurred())

	names := make([]string, 0, len(families))
	for _, family := range families {
		names = append(names, family.GetName())
	}

	g.Expect(names).Should(ContainElement("remotefs_operations_total"))
}

func TestBuild_LoadsCredentials(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	file := filepath.Join(t.TempDir(), "credentials.yaml")

	g.Expect(os.WriteFile(file, []byte("shares:\n  - host: nas\n    username: bob\n"), 0o600)).Should(Succeed())

	app, err := config.Build(&config.Config{Credentials: file, User: "alice"}, io.Discard)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(app.SMB).ShouldNot(BeNil())

	app.Close()
}

func TestBuild_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.yaml")

	if err := os.WriteFile(broken, []byte("shares:\n  - share: photos\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		cfg  config.Config
	}{
		{"missing credentials file", config.Config{Credentials: filepath.Join(dir, "none.yaml")}},
		{"share without host", config.Config{Credentials: broken}},
		{"missing known hosts", config.Config{KnownHosts: filepath.Join(dir, "known_hosts")}},
	}

	for _, tt := range tests {
		if _, err := config.Build(&tt.cfg, io.Discard); err == nil {
			t.Errorf("%s: Build succeeded, want an error", tt.name)
		}
	}
}

func TestApp_ServeMetrics(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)

	app, err := config.Build(&config.Config{}, io.Discard)
	g.Expect(err).ShouldNot(HaveOccurred())

	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())

	done, err := app.ServeMetrics(ctx, "127.0.0.1:0")
	g.Expect(err).ShouldNot(HaveOccurred())

	cancel()
	g.Eventually(done).Should(BeClosed())

	_, err = app.ServeMetrics(context.Background(), "not-an-address")
	g.Expect(err).Should(HaveOccurred())
}

func TestFilterArgs_Filter(t *testing.T) {
	t.Parallel()

	g := NewWithT(t)
	args := config.FilterArgs{Pattern: "*.txt", Extensions: []string{"txt"}, MaxSize: 100, Dirs: true}

	g.Expect(args.Filter()).Should(Equal(filesystem.Filter{
		Pattern:     "*.txt",
		Extensions:  []string{"txt"},
		MaxSize:     100,
		IncludeDirs: true,
	}))
}
