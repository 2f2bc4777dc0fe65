// Package main provides a Dagger module for building and deploying Arbiter.
package main

import (
	"context"
	"dagger/arbiter/internal/dagger"
	"fmt"
	"strings"
)

const goImage = "golang:1.24.2-alpine"

type Arbiter struct{}

// BuildContainer creates a container image for the project.
func (m *Arbiter) BuildContainer(
	ctx context.Context,
	// Source code directory
	// +required
	src *dagger.Directory,
	// Platform to build for
	// +optional
	// +default="linux/amd64"
	platform *dagger.Platform,
) (*dagger.Container, error) {
	buildPlatform := dagger.Platform("linux/amd64")
	if platform != nil {
		buildPlatform = *platform
	}

	platformArch, err := dag.Containerd().ArchitectureOf(ctx, buildPlatform)
	if err != nil {
		return nil, fmt.Errorf("failed to get architecture: %w", err)
	}

	buildCtr := dag.Container().
		From(goImage).
		WithMountedCache("/go/pkg/mod", dag.CacheVolume("go-mod")).
		WithMountedCache("/root/.cache/go-build", dag.CacheVolume("go-build")).
		WithDirectory("/src", src).
		WithWorkdir("/src").
		WithEnvVariable("CGO_ENABLED", "0").
		WithEnvVariable("GOOS", "linux").
		WithEnvVariable("GOARCH", platformArch).
		WithExec([]string{"apk", "add", "--no-cache", "upx", "ca-certificates"}).
		WithExec([]string{"mkdir", "-p", "/src/bin", "/src/logs"}).
		WithExec([]string{"go", "build", "-ldflags=-s -w", "-o", "/src/bin/arbiter", "./cmd/arbiter"}).
		WithExec([]string{"upx", "--best", "--lzma", "/src/bin/arbiter"})

	return dag.Container(dagger.ContainerOpts{Platform: buildPlatform}).
		From("gcr.io/distroless/static-debian12:latest").
		WithDirectory("/app/bin", buildCtr.Directory("/src/bin")).
		WithDirectory("/app/logs", buildCtr.Directory("/src/logs")).
		WithFile("/etc/ssl/certs/ca-certificates.crt", buildCtr.File("/etc/ssl/certs/ca-certificates.crt")).
		WithWorkdir("/app").
		WithEntrypoint([]string{"/app/bin/arbiter"}).
		WithDefaultArgs([]string{"worker"}), nil
}

// Test runs the unit tests.
func (m *Arbiter) Test(
	ctx context.Context,
	// Source code directory
	// +required
	src *dagger.Directory,
) (string, error) {
	return dag.Container().
		From(goImage).
		WithMountedCache("/go/pkg/mod", dag.CacheVolume("go-mod")).
		WithMountedCache("/root/.cache/go-build", dag.CacheVolume("go-build")).
		WithDirectory("/src", src).
		WithWorkdir("/src").
		WithExec([]string{"go", "test", "./..."}).
		Stdout(ctx)
}

// Publish the application container after building and testing it.
func (m *Arbiter) Publish(
	ctx context.Context,
	// Source code directory
	// +required
	src *dagger.Directory,
	// Docker image name (e.g. "username/repo:tag")
	// +required
	imageName string,
	// Platforms to build for (comma-separated, e.g. "linux/amd64,linux/arm64")
	// +optional
	// +default="linux/amd64"
	platforms string,
) (string, error) {
	if _, err := m.Test(ctx, src); err != nil {
		return "", fmt.Errorf("tests failed: %w", err)
	}

	var platformList []dagger.Platform
	if platforms == "" {
		platformList = []dagger.Platform{"linux/amd64"}
	} else {
		for _, p := range strings.Split(platforms, ",") {
			platformList = append(platformList, dagger.Platform(strings.TrimSpace(p)))
		}
	}

	platformVariants := make([]*dagger.Container, 0, len(platformList))
	for _, platform := range platformList {
		container, err := m.BuildContainer(ctx, src, &platform)
		if err != nil {
			return "", fmt.Errorf("failed to build container for %s: %w", platform, err)
		}
		platformVariants = append(platformVariants, container)
	}

	ref, err := dag.Container().Publish(ctx, imageName, dagger.ContainerPublishOpts{
		PlatformVariants: platformVariants,
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish image: %w", err)
	}

	return ref, nil
}

// Run the program with the given arguments and config files.
func (m *Arbiter) Run(
	// Source code directory
	// +required
	src *dagger.Directory,
	// Config directory holding common.toml and appeal.toml
	// +required
	configDir *dagger.Directory,
	// Arguments passed to arbiter (e.g. "worker --auto-migrate" or "db status")
	// +optional
	// +default="worker"
	args string,
) *dagger.Container {
	return dag.Container().
		From(goImage).
		WithMountedCache("/go/pkg/mod", dag.CacheVolume("go-mod")).
		WithMountedCache("/root/.cache/go-build", dag.CacheVolume("go-build")).
		WithDirectory("/src", src).
		WithDirectory("/etc/arbiter/config", configDir).
		WithWorkdir("/src").
		WithEnvVariable("CGO_ENABLED", "0").
		WithExec([]string{"apk", "add", "--no-cache", "ca-certificates"}).
		WithExec([]string{"go", "build", "-o", "/src/bin/arbiter", "./cmd/arbiter"}).
		WithExec(append([]string{"/src/bin/arbiter"}, strings.Fields(args)...))
}
