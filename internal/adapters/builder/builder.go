package builder

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/go-git/go-git/v5"

	"github.com/melih/lighthouse-stack/internal/core/domain"
	"github.com/melih/lighthouse-stack/internal/errdefs"
	"github.com/melih/lighthouse-stack/internal/logging"
)

// externalRecipePrefix names a Dockerfile added to the build context from
// outside of it.
const externalRecipePrefix = ".lighthouse."

// imageBuilder is the part of the Docker client the builder uses.
type imageBuilder interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
}

type Adapter struct {
	cli    imageBuilder
	output io.Writer
}

func NewBuilderAdapter() (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Adapter{cli: cli, output: io.Discard}, nil
}

// NewBuilderAdapterWithClient reuses an existing client.
func NewBuilderAdapterWithClient(cli *client.Client) *Adapter {
	return &Adapter{cli: cli, output: io.Discard}
}

// WithOutput streams the build progress to w.
func (a *Adapter) WithOutput(w io.Writer) *Adapter {
	a.output = w
	return a
}

// BuildImage resolves the build context, local or cloned, and builds it
func (a *Adapter) BuildImage(ctx context.Context, imageName string, spec domain.BuildSpec) (string, error) {
	logger := logging.FromContext(ctx).With("image", imageName)

	// 1. Resolve the build context
	dir, cleanup, err := a.resolveContext(ctx, spec)
	if err != nil {
		return "", err
	}
	defer cleanup()

	dockerfile, recipe, err := resolveRecipe(dir, spec)
	if err != nil {
		return "", err
	}

	// 2. Create Build Context (Tar)
	var buildCtx io.ReadCloser
	buildCtx, err = archive.TarWithOptions(dir, &archive.TarOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to create build context: %w", err)
	}
	if recipe != nil {
		buildCtx = archive.ReplaceFileTarWrapper(buildCtx, map[string]archive.TarModifierFunc{
			dockerfile: func(_ string, _ *tar.Header, _ io.Reader) (*tar.Header, []byte, error) {
				return &tar.Header{
					Name:     dockerfile,
					Mode:     0o600,
					ModTime:  time.Now(),
					Typeflag: tar.TypeReg,
				}, recipe, nil
			},
		})
	}
	defer buildCtx.Close()

	// 3. Build Docker Image
	logger.InfoContext(ctx, "building image", "context", dir, "target", spec.Target)
	resp, err := a.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{imageName},
		Dockerfile:  dockerfile,
		Target:      spec.Target,
		BuildArgs:   buildArgs(spec.Args),
		Remove:      true, // Remove intermediate containers
		ForceRemove: true,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", errdefs.ErrBuildFailed, imageName, err)
	}
	defer resp.Body.Close()

	// 4. Wait for build to complete; a failed step shows up as an error message in the stream
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, a.output, 0, false, nil); err != nil {
		return "", fmt.Errorf("%w: %s: %w", errdefs.ErrBuildFailed, imageName, err)
	}

	logger.InfoContext(ctx, "image built")
	return imageName, nil
}

// resolveRecipe returns the Dockerfile name inside the build context and,
// when the recipe does not come from the context itself, its content. An
// inline recipe replaces the file of that name. A Dockerfile outside the
// context is read from disk and added under a reserved name.
func resolveRecipe(dir string, spec domain.BuildSpec) (string, []byte, error) {
	dockerfile := spec.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	if len(spec.Inline) > 0 {
		return path.Clean(filepath.ToSlash(dockerfile)), spec.Inline, nil
	}

	full := dockerfile
	if !filepath.IsAbs(full) {
		full = filepath.Join(dir, dockerfile)
	}
	rel, err := filepath.Rel(dir, full)
	if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		if _, err := os.Stat(full); err != nil {
			return "", nil, fmt.Errorf("%w: %s not found in %s", errdefs.ErrBuildFailed, dockerfile, dir)
		}
		return filepath.ToSlash(rel), nil, nil
	}

	recipe, err := os.ReadFile(full)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s: %w", errdefs.ErrBuildFailed, dockerfile, err)
	}
	return externalRecipePrefix + filepath.Base(full), recipe, nil
}

// resolveContext returns the directory to build from, cloning the repository
// into a temporary directory when the build points to one.
func (a *Adapter) resolveContext(ctx context.Context, spec domain.BuildSpec) (string, func(), error) {
	if spec.Repository == "" {
		dir, err := filepath.Abs(spec.Context)
		if err != nil {
			return "", nil, fmt.Errorf("failed to resolve build context %s: %w", spec.Context, err)
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return "", nil, fmt.Errorf("%w: build context %s is not a directory", errdefs.ErrBuildFailed, dir)
		}
		return dir, func() {}, nil
	}

	tmpDir, err := os.MkdirTemp("", "lighthouse-build-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(tmpDir) }

	logging.FromContext(ctx).InfoContext(ctx, "cloning build context", "repository", spec.Repository)
	_, err = git.PlainCloneContext(ctx, tmpDir, false, &git.CloneOptions{
		URL:      spec.Repository,
		Progress: a.output,
		Depth:    1, // Shallow clone for speed
	})
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to clone repo: %w", err)
	}
	return tmpDir, cleanup, nil
}

func buildArgs(args map[string]string) map[string]*string {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]*string, len(args))
	for k, v := range args {
		v := v
		out[k] = &v
	}
	return out
}
